package gednet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var l LayerNorm
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLayerNorm)
}

const defaultLayerNormEpsilon = 1e-12

// LayerNorm normalizes every packed row of its input to
// zero mean and unit variance, then applies a learned
// component-wise affine transformation.
//
// For a row x, the output is
//
//     scalers*(x-mean(x))/sqrt(var(x)+Epsilon) + biases
type LayerNorm struct {
	Scalers *anydiff.Var
	Biases  *anydiff.Var

	// Epsilon is added to the variance.
	// If it is 0, a default of 1e-12 is used.
	Epsilon float64
}

// NewLayerNorm creates a LayerNorm for rows of size n,
// with unit scalers and zero biases.
func NewLayerNorm(c anyvec.Creator, n int, epsilon float64) *LayerNorm {
	res := &LayerNorm{
		Scalers: anydiff.NewVar(c.MakeVector(n)),
		Biases:  anydiff.NewVar(c.MakeVector(n)),
		Epsilon: epsilon,
	}
	res.Scalers.Vector.AddScalar(c.MakeNumeric(1))
	return res
}

// DeserializeLayerNorm deserializes a LayerNorm.
func DeserializeLayerNorm(d []byte) (*LayerNorm, error) {
	var s, b *anyvecsave.S
	var eps serializer.Float64
	if err := serializer.DeserializeAny(d, &s, &b, &eps); err != nil {
		return nil, essentials.AddCtx("deserialize LayerNorm", err)
	}
	return &LayerNorm{
		Scalers: anydiff.NewVar(s.Vector),
		Biases:  anydiff.NewVar(b.Vector),
		Epsilon: float64(eps),
	}, nil
}

// Apply normalizes each of the rows in the input.
func (l *LayerNorm) Apply(in anydiff.Res, rows int) anydiff.Res {
	cols := l.Scalers.Vector.Len()
	if in.Output().Len() != rows*cols {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			rows*cols, in.Output().Len()))
	}
	c := in.Output().Creator()
	eps := l.Epsilon
	if eps == 0 {
		eps = defaultLayerNormEpsilon
	}
	centered := anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return anydiff.Sub(in, broadcastRows(rowMeans(in, rows, cols), rows, cols))
	})
	return anydiff.Pool(centered, func(centered anydiff.Res) anydiff.Res {
		variance := rowMeans(anydiff.Square(centered), rows, cols)
		invStd := anydiff.Pow(anydiff.AddScalar(variance, c.MakeNumeric(eps)),
			c.MakeNumeric(-0.5))
		normed := anydiff.Mul(centered, broadcastRows(invStd, rows, cols))
		return anydiff.ScaleAddRepeated(normed, l.Scalers, l.Biases)
	})
}

// Parameters returns a slice containing the scalers
// followed by the biases.
func (l *LayerNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.Scalers, l.Biases}
}

// SerializerType returns the unique ID used to serialize
// a LayerNorm with the serializer package.
func (l *LayerNorm) SerializerType() string {
	return "github.com/unixpickle/gednet.LayerNorm"
}

// Serialize serializes the layer.
func (l *LayerNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: l.Scalers.Vector},
		&anyvecsave.S{Vector: l.Biases.Vector},
		serializer.Float64(l.Epsilon),
	)
}

// rowMeans computes the mean of every row of a row-major
// matrix, producing a column vector.
func rowMeans(in anydiff.Res, rows, cols int) anydiff.Res {
	c := in.Output().Creator()
	avg := c.MakeVector(cols)
	avg.AddScalar(c.MakeNumeric(1 / float64(cols)))
	return anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: in, Rows: rows, Cols: cols},
		&anydiff.Matrix{Data: anydiff.NewConst(avg), Rows: cols, Cols: 1},
	).Data
}

// broadcastRows repeats the i-th component of a column
// vector across the i-th row of a rows by cols matrix.
func broadcastRows(col anydiff.Res, rows, cols int) anydiff.Res {
	c := col.Output().Creator()
	ones := c.MakeVector(cols)
	ones.AddScalar(c.MakeNumeric(1))
	return anydiff.MatMul(false, false,
		&anydiff.Matrix{Data: col, Rows: rows, Cols: 1},
		&anydiff.Matrix{Data: anydiff.NewConst(ones), Rows: 1, Cols: cols},
	).Data
}
