package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// AdamW implements Adam with decoupled weight decay, as
// described in https://arxiv.org/abs/1711.05101.
//
// The transformed gradient is the bias-corrected Adam
// direction plus WeightDecay times the current parameter
// value, so that scaling it by the negative learning rate
// shrinks the weights independently of the gradient
// statistics.
type AdamW struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, the defaults 0.9 and 0.999 are used.
	DecayRate1, DecayRate2 float64

	// Damping is added to the root of the second moment
	// to prevent divisions by zero.
	// If it is 0, 1e-8 is used.
	Damping float64

	// WeightDecay is the decoupled weight decay
	// coefficient.
	WeightDecay float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform computes the AdamW update direction.
func (a *AdamW) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := valueOrDefault(a.Damping, adamDefaultDamping)
	for variable, vec := range realGrad {
		c := vec.Creator()
		vec.Set(a.firstMoment[variable])
		vec.Scale(c.MakeNumeric(scalingFactor))

		divisor := a.secondMoment[variable].Copy()
		anyvec.Pow(divisor, c.MakeNumeric(0.5))
		divisor.AddScalar(c.MakeNumeric(damping))
		vec.Div(divisor)

		if a.WeightDecay != 0 {
			decay := variable.Vector.Copy()
			decay.Scale(c.MakeNumeric(a.WeightDecay))
			vec.Add(decay)
		}
	}

	return realGrad
}

func (a *AdamW) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = zeroGrad(grad)
		a.secondMoment = zeroGrad(grad)
	}

	decay1, decay2 := a.decayRate(1), a.decayRate(2)
	scaleGrad(a.firstMoment, decay1)
	scaleGrad(a.secondMoment, decay2)
	for variable, vec := range grad {
		c := vec.Creator()

		v := vec.Copy()
		v.Scale(c.MakeNumeric(1 - decay1))
		a.firstMoment[variable].Add(v)

		v = vec.Copy()
		anyvec.Pow(v, c.MakeNumeric(2))
		v.Scale(c.MakeNumeric(1 - decay2))
		a.secondMoment[variable].Add(v)
	}
}

func (a *AdamW) decayRate(moment int) float64 {
	if moment == 1 {
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	} else if moment == 2 {
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	} else {
		panic("invalid moment")
	}
}
