// Package optim implements the gradient-based optimizer
// used to fine-tune classifiers.
//
// Gradients are computed elsewhere and handed to an
// Optimizer, which runs them through a chain of
// Transformers (clipping, AdamW) and applies them with a
// learning rate chosen by a Rater.
package optim

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients.
// For example, pre-conditioning could be implemented as a
// transformer.
//
// After its first call, a Transformer expects to see
// gradients of the same form (i.e. containing the same
// variables).
//
// A Transformer may modify its own input and return the
// same gradient as an output.
// It should not retain a reference to the input after
// Transform returns.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Rater determines the learning rate given the number
// of optimization steps taken so far.
type Rater interface {
	Rate(step int) float64
}

// A SampleList represents a list of training samples.
type SampleList interface {
	// Len returns the number of samples.
	Len() int

	// Swap swaps two samples.
	Swap(i, j int)

	// Slice generates a shallow copy of a subset of the
	// list.
	Slice(i, j int) SampleList
}

// PostShuffler is used to notify a SampleList that it has
// been shuffled, allowing it to perform any sample
// re-ordering it likes.
type PostShuffler interface {
	PostShuffle()
}

// Chain is a Transformer which applies each of its
// Transformers in order.
type Chain []Transformer

// Transform applies every transformer in the chain.
func (c Chain) Transform(g anydiff.Grad) anydiff.Grad {
	for _, t := range c {
		g = t.Transform(g)
	}
	return g
}

// Optimizer applies transformed gradients to variables.
type Optimizer struct {
	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer Transformer

	// Rater determines the learning rate for each step.
	Rater Rater

	// NumSteps is the number of steps taken so far.
	// It is passed to Rater.
	NumSteps int
}

// Step transforms the gradient and adds it to the
// variables, scaled by the negative learning rate.
//
// It returns the learning rate that was used.
// The gradient is consumed by this call.
func (o *Optimizer) Step(g anydiff.Grad) float64 {
	if o.Transformer != nil {
		g = o.Transformer.Transform(g)
	}
	rate := o.Rater.Rate(o.NumSteps)
	scaleGrad(g, -rate)
	g.AddToVars()
	o.NumSteps++
	return rate
}
