package gednet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Cost provides a way to measure the amount of error
// from the output of a neural network.
//
// A Cost function is batched.
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// CrossEntropy computes the cross-entropy between one-hot
// (or soft) targets and the distribution obtained by
// applying a softmax to unnormalized logits.
//
// The log-softmax is taken internally, so the actual
// output should be raw logits, not probabilities.
type CrossEntropy struct{}

// Cost computes, for each batch element, the negative dot
// product between the desired distribution and the
// log-softmax of the actual logits.
func (CrossEntropy) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	if actual.Output().Len()%n != 0 {
		panic("batch size must divide output length")
	}
	cols := actual.Output().Len() / n
	logProbs := anydiff.LogSoftmax(actual, cols)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(desired, logProbs),
		Rows: n,
		Cols: cols,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// OneHot packs a batch of class indices into one-hot
// target vectors.
func OneHot(c anyvec.Creator, labels []int, numClasses int) anyvec.Vector {
	data := make([]float64, len(labels)*numClasses)
	for i, l := range labels {
		if l < 0 || l >= numClasses {
			panic(fmt.Sprintf("label %d out of range [0, %d)", l, numClasses))
		}
		data[i*numClasses+l] = 1
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

// MeanCost sums a batch of costs and divides by the batch
// size.
func MeanCost(costs anydiff.Res) anydiff.Res {
	total := anydiff.Sum(costs)
	divisor := 1 / float64(costs.Output().Len())
	return anydiff.Scale(total, total.Output().Creator().MakeNumeric(divisor))
}
