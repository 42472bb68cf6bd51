// Package seqconv provides convolution and pooling layers
// that operate along the time axis of packed sequences,
// such as the hidden states of a transformer encoder.
//
// All sequences are row-major: Length steps, each with
// Depth channels.
package seqconv

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Conv
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConv)
}

// Conv is a 1-D convolutional layer with stride 1 and
// symmetric zero padding.
//
// Each filter spans KernelSize steps and all InputDepth
// channels.
// With KernelSize = 2*Padding+1, the output sequence has
// the same length as the input.
type Conv struct {
	FilterCount int
	KernelSize  int
	Padding     int

	InputLength int
	InputDepth  int

	// Filters is a FilterCount by KernelSize*InputDepth
	// row-major matrix.
	Filters *anydiff.Var
	Biases  *anydiff.Var

	// Parallel indicates that the batch should be spread
	// across goroutines.
	Parallel bool

	window     *Window
	windowLock sync.Mutex
}

// DeserializeConv deserializes a Conv.
func DeserializeConv(d []byte) (*Conv, error) {
	var inL, inD, k, p serializer.Int
	var f, b *anyvecsave.S
	err := serializer.DeserializeAny(d, &inL, &inD, &k, &p, &f, &b)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Conv", err)
	}
	if b.Vector.Len()*int(k*inD) != f.Vector.Len() {
		return nil, errors.New("deserialize Conv: invalid filter dimensions")
	}
	return &Conv{
		FilterCount: b.Vector.Len(),
		KernelSize:  int(k),
		Padding:     int(p),
		InputLength: int(inL),
		InputDepth:  int(inD),
		Filters:     anydiff.NewVar(f.Vector),
		Biases:      anydiff.NewVar(b.Vector),
		Parallel:    true,
	}, nil
}

// InitRand initializes the filters randomly and the
// biases to zero.
func (c *Conv) InitRand(cr anyvec.Creator) {
	c.InitZero(cr)
	normalizer := 1 / math.Sqrt(float64(c.KernelSize*c.InputDepth))
	anyvec.Rand(c.Filters.Vector, anyvec.Normal, nil)
	c.Filters.Vector.Scale(cr.MakeNumeric(normalizer))
}

// InitZero initializes the filters and biases to zero.
func (c *Conv) InitZero(cr anyvec.Creator) {
	c.Filters = anydiff.NewVar(cr.MakeVector(c.FilterCount * c.KernelSize * c.InputDepth))
	c.Biases = anydiff.NewVar(cr.MakeVector(c.FilterCount))
}

// OutputLength returns the number of steps in the output
// sequence.
func (c *Conv) OutputLength() int {
	return c.getWindow().NumRows()
}

// OutputDepth returns the number of output channels.
func (c *Conv) OutputDepth() int {
	return c.FilterCount
}

// Apply applies the layer to a batch of sequences.
//
// The layer must have been initialized.
func (c *Conv) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if c.Filters == nil || c.Biases == nil {
		panic("uninitialized Conv")
	}
	seqSize := c.InputLength * c.InputDepth
	if in.Output().Len() != batchSize*seqSize {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batchSize*seqSize, in.Output().Len()))
	}
	window := c.getWindow()
	if window.NumRows() == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}

	cr := in.Output().Creator()
	filterMat := c.filterMatrix()
	outSize := window.NumRows() * c.FilterCount

	products := make([]anyvec.Vector, batchSize)
	window.MapAll(in.Output(), c.Parallel, func(i int, rows *anyvec.Matrix) {
		prod := &anyvec.Matrix{
			Data: cr.MakeVector(outSize),
			Rows: window.NumRows(),
			Cols: c.FilterCount,
		}
		prod.Product(false, true, cr.MakeNumeric(1), rows, filterMat, cr.MakeNumeric(0))
		products[i] = prod.Data
	})

	outData := cr.Concat(products...)
	anyvec.AddRepeated(outData, c.Biases.Vector)

	return &convRes{
		Layer:  c,
		N:      batchSize,
		In:     in,
		OutVec: outData,
		V:      anydiff.MergeVarSets(in.Vars(), anydiff.NewVarSet(c.Filters, c.Biases)),
	}
}

// Parameters returns the filters and the biases, in that
// order.
//
// If the layer is uninitialized, the result is nil.
func (c *Conv) Parameters() []*anydiff.Var {
	if c.Filters == nil || c.Biases == nil {
		return nil
	}
	return []*anydiff.Var{c.Filters, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Conv with the serializer package.
func (c *Conv) SerializerType() string {
	return "github.com/unixpickle/gednet/seqconv.Conv"
}

// Serialize serializes the layer.
//
// If the layer was not yet initialized, this fails.
func (c *Conv) Serialize() ([]byte, error) {
	if c.Filters == nil || c.Biases == nil {
		return nil, errors.New("cannot serialize uninitialized Conv")
	}
	return serializer.SerializeAny(
		serializer.Int(c.InputLength),
		serializer.Int(c.InputDepth),
		serializer.Int(c.KernelSize),
		serializer.Int(c.Padding),
		&anyvecsave.S{Vector: c.Filters.Vector},
		&anyvecsave.S{Vector: c.Biases.Vector},
	)
}

func (c *Conv) filterMatrix() *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.Filters.Vector,
		Rows: c.FilterCount,
		Cols: c.KernelSize * c.InputDepth,
	}
}

func (c *Conv) getWindow() *Window {
	c.windowLock.Lock()
	defer c.windowLock.Unlock()
	if c.window == nil {
		c.window = &Window{
			Size:    c.KernelSize,
			Padding: c.Padding,
			Length:  c.InputLength,
			Depth:   c.InputDepth,
		}
	}
	return c.window
}

type convRes struct {
	Layer  *Conv
	N      int
	In     anydiff.Res
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.OutVec
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	layer := c.Layer
	window := layer.getWindow()
	doIn := g.Intersects(c.In.Vars())
	filterGrad, doFilters := g[layer.Filters]

	if biasGrad, ok := g[layer.Biases]; ok {
		biasGrad.Add(anyvec.SumRows(u, layer.FilterCount))
	}
	if !doIn && !doFilters {
		return
	}

	cr := u.Creator()
	one := cr.MakeNumeric(1)
	zero := cr.MakeNumeric(0)
	outSize := u.Len() / c.N
	filterMat := layer.filterMatrix()

	inputUpstreams := make([]anyvec.Vector, c.N)
	var updateLock sync.Mutex
	window.MapAll(c.In.Output(), layer.Parallel, func(i int, rows *anyvec.Matrix) {
		uMat := &anyvec.Matrix{
			Data: u.Slice(outSize*i, outSize*(i+1)),
			Rows: window.NumRows(),
			Cols: layer.FilterCount,
		}
		if doFilters {
			fgMat := *filterMat
			fgMat.Data = cr.MakeVector(filterGrad.Len())
			fgMat.Product(true, false, one, uMat, rows, zero)
			updateLock.Lock()
			filterGrad.Add(fgMat.Data)
			updateLock.Unlock()
		}
		if doIn {
			rowGrad := window.MakeOut(cr)
			rowGrad.Product(false, false, one, uMat, filterMat, zero)
			inputUpstreams[i] = window.MapTranspose(rowGrad.Data)
		}
	})

	if doIn {
		c.In.Propagate(cr.Concat(inputUpstreams...), g)
	}
}
