package seqconv

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func TestConvSerialize(t *testing.T) {
	conv := &Conv{
		FilterCount: 4,
		KernelSize:  3,
		Padding:     1,
		InputLength: 7,
		InputDepth:  5,
		Parallel:    true,
	}
	conv.InitRand(anyvec64.DefaultCreator{})
	data, err := serializer.SerializeAny(conv)
	if err != nil {
		t.Fatal(err)
	}
	var newConv *Conv
	if err := serializer.DeserializeAny(data, &newConv); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(newConv, conv) {
		t.Fatal("layers differ")
	}
}

func TestConvOutput(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		conv := &Conv{
			FilterCount: 3,
			KernelSize:  3,
			Padding:     1,
			InputLength: 6,
			InputDepth:  4,
			Parallel:    parallel,
		}
		conv.InitRand(anyvec64.DefaultCreator{})
		anyvec.Rand(conv.Biases.Vector, anyvec.Normal, nil)

		input := anyvec64.MakeVector(6 * 4 * 2)
		anyvec.Rand(input, anyvec.Normal, nil)
		inData := input.Data().([]float64)

		expected := naiveConv(conv, inData[:6*4])
		expected = append(expected, naiveConv(conv, inData[6*4:])...)
		actual := conv.Apply(anydiff.NewConst(input), 2).Output().Data().([]float64)

		if conv.OutputLength() != 6 {
			t.Fatalf("expected output length 6 but got %d", conv.OutputLength())
		}
		if len(actual) != len(expected) {
			t.Fatalf("expected length %d but got %d", len(expected), len(actual))
		}
		for i, x := range expected {
			if math.Abs(x-actual[i]) > 1e-8 {
				t.Errorf("parallel=%v output %d: should be %f but got %f", parallel, i,
					x, actual[i])
				break
			}
		}
	}
}

func TestConvProp(t *testing.T) {
	conv := &Conv{
		FilterCount: 3,
		KernelSize:  3,
		Padding:     1,
		InputLength: 5,
		InputDepth:  2,
	}
	conv.InitRand(anyvec64.DefaultCreator{})
	input := anyvec64.MakeVector(5 * 2 * 3)
	anyvec.Rand(input, anyvec.Normal, nil)
	inVar := anydiff.NewVar(input)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return conv.Apply(inVar, 3)
		},
		V:     append([]*anydiff.Var{inVar}, conv.Parameters()...),
		Delta: 1e-6,
		Prec:  1e-5,
	}
	checker.FullCheck(t)
}

func naiveConv(c *Conv, seq []float64) []float64 {
	filters := c.Filters.Vector.Data().([]float64)
	biases := c.Biases.Vector.Data().([]float64)
	var res []float64
	outLen := c.InputLength + 2*c.Padding - c.KernelSize + 1
	for t := 0; t < outLen; t++ {
		for f := 0; f < c.FilterCount; f++ {
			sum := biases[f]
			for k := 0; k < c.KernelSize; k++ {
				pos := t + k - c.Padding
				if pos < 0 || pos >= c.InputLength {
					continue
				}
				for d := 0; d < c.InputDepth; d++ {
					w := filters[f*c.KernelSize*c.InputDepth+k*c.InputDepth+d]
					sum += w * seq[pos*c.InputDepth+d]
				}
			}
			res = append(res, sum)
		}
	}
	return res
}
