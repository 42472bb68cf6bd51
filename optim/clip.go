package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// ClipNorm is a Transformer which rescales gradients
// whose global L2 norm exceeds a threshold.
//
// The norm is taken over all the variables at once, so
// the direction of the gradient is preserved.
type ClipNorm struct {
	// Max is the maximum allowed norm.
	Max float64

	// LastNorm is the norm of the most recent gradient,
	// before clipping.
	LastNorm float64
}

// Transform clips the gradient in place.
func (c *ClipNorm) Transform(g anydiff.Grad) anydiff.Grad {
	c.LastNorm = GradNorm(g)
	if c.LastNorm > c.Max && c.LastNorm > 0 {
		scaleGrad(g, c.Max/(c.LastNorm+1e-6))
	}
	return g
}

// GradNorm computes the L2 norm of the concatenation of
// all the vectors in a gradient.
func GradNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, vec := range g {
		n := anyvec.Norm(vec)
		norm := valueToFloat(n)
		sum += norm * norm
	}
	return math.Sqrt(sum)
}
