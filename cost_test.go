package gednet

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCrossEntropy(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	targets := OneHot(c, []int{2, 0}, 3)
	logits := anyvec64.MakeVectorData([]float64{
		1, 2, 3,
		0.5, -1, 0,
	})
	actual := CrossEntropy{}.Cost(anydiff.NewConst(targets), anydiff.NewConst(logits), 2)
	expected := []float64{0.40760596444, 0.60413060534}
	data := actual.Output().Data().([]float64)
	if len(data) != len(expected) {
		t.Fatalf("expected %d costs but got %d", len(expected), len(data))
	}
	for i, x := range expected {
		if math.Abs(data[i]-x) > 1e-8 {
			t.Errorf("cost %d: expected %f but got %f", i, x, data[i])
		}
	}

	mean := Floats(MeanCost(actual).Output())
	if len(mean) != 1 || math.Abs(mean[0]-(expected[0]+expected[1])/2) > 1e-8 {
		t.Errorf("bad mean cost: %v", mean)
	}
}

func TestCrossEntropyProp(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	logits := anydiff.NewVar(c.MakeVector(8))
	anyvec.Rand(logits.Vector, anyvec.Normal, nil)
	targets := anydiff.NewConst(OneHot(c, []int{1, 0, 1, 1}, 2))

	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return MeanCost(CrossEntropy{}.Cost(targets, logits, 4))
		},
		V: []*anydiff.Var{logits},
	}
	checker.FullCheck(t)
}

func TestOneHot(t *testing.T) {
	actual := Floats(OneHot(anyvec64.DefaultCreator{}, []int{1, 0, 2}, 3))
	expected := []float64{0, 1, 0, 1, 0, 0, 0, 0, 1}
	for i, x := range expected {
		if actual[i] != x {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range label")
		}
	}()
	OneHot(anyvec64.DefaultCreator{}, []int{3}, 3)
}
