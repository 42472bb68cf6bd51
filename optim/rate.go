package optim

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(step int) float64 {
	return float64(c)
}

// LinearWarmup is a Rater which increases the learning
// rate linearly from 0 to Base over WarmupSteps steps,
// then decreases it linearly to 0 at TotalSteps.
type LinearWarmup struct {
	Base        float64
	WarmupSteps int
	TotalSteps  int
}

// NewLinearWarmup creates a LinearWarmup which spends the
// given fraction of the total steps warming up.
func NewLinearWarmup(base float64, totalSteps int, warmupFrac float64) *LinearWarmup {
	return &LinearWarmup{
		Base:        base,
		WarmupSteps: int(float64(totalSteps) * warmupFrac),
		TotalSteps:  totalSteps,
	}
}

// Rate computes the learning rate for the step.
func (l *LinearWarmup) Rate(step int) float64 {
	if step < l.WarmupSteps {
		return l.Base * float64(step) / float64(l.WarmupSteps)
	}
	remaining := float64(l.TotalSteps - step)
	decaySteps := float64(l.TotalSteps - l.WarmupSteps)
	if decaySteps < 1 {
		decaySteps = 1
	}
	if remaining < 0 {
		return 0
	}
	return l.Base * remaining / decaySteps
}
