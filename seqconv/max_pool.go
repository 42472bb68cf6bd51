package seqconv

import (
	"fmt"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

func init() {
	var m MaxPool
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMaxPool)
}

// MaxPool reduces every sequence to a single vector by
// taking, for each channel, the maximum over all steps.
//
// This is an adaptive max-pool with an output size of 1.
type MaxPool struct {
	InputLength int
	InputDepth  int

	lock       sync.Mutex
	transposer anyvec.Mapper
}

// DeserializeMaxPool deserializes a MaxPool.
func DeserializeMaxPool(d []byte) (*MaxPool, error) {
	var l, depth serializer.Int
	if err := serializer.DeserializeAny(d, &l, &depth); err != nil {
		return nil, err
	}
	return &MaxPool{InputLength: int(l), InputDepth: int(depth)}, nil
}

// OutputDepth returns the size of each pooled vector.
func (m *MaxPool) OutputDepth() int {
	return m.InputDepth
}

// Apply pools each sequence in the batch.
func (m *MaxPool) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	seqSize := m.InputLength * m.InputDepth
	if in.Output().Len() != batchSize*seqSize {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batchSize*seqSize, in.Output().Len()))
	}
	cr := in.Output().Creator()
	transposer := m.getTransposer(cr)
	transposed := cr.MakeVector(seqSize)

	maxResults := make([]anyvec.Vector, batchSize)
	maxMaps := make([]anyvec.Mapper, batchSize)
	for i := 0; i < batchSize; i++ {
		transposer.Map(in.Output().Slice(seqSize*i, seqSize*(i+1)), transposed)
		mapping := anyvec.MapMax(transposed, m.InputLength)
		output := cr.MakeVector(mapping.OutSize())
		mapping.Map(transposed, output)
		maxMaps[i] = mapping
		maxResults[i] = output
	}

	return &maxPoolRes{
		Layer:  m,
		In:     in,
		OutVec: cr.Concat(maxResults...),
		Maps:   maxMaps,
	}
}

// SerializerType returns the unique ID used to serialize
// a MaxPool with the serializer package.
func (m *MaxPool) SerializerType() string {
	return "github.com/unixpickle/gednet/seqconv.MaxPool"
}

// Serialize serializes the MaxPool.
func (m *MaxPool) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(m.InputLength),
		serializer.Int(m.InputDepth),
	)
}

// getTransposer returns a mapper from a step-major
// sequence to a channel-major one, so that each channel's
// values are contiguous.
func (m *MaxPool) getTransposer(cr anyvec.Creator) anyvec.Mapper {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.transposer != nil && m.transposer.Creator() == cr {
		return m.transposer
	}
	table := make([]int, 0, m.InputLength*m.InputDepth)
	for d := 0; d < m.InputDepth; d++ {
		for t := 0; t < m.InputLength; t++ {
			table = append(table, t*m.InputDepth+d)
		}
	}
	m.transposer = cr.MakeMapper(m.InputLength*m.InputDepth, table)
	return m.transposer
}

type maxPoolRes struct {
	Layer  *MaxPool
	In     anydiff.Res
	OutVec anyvec.Vector
	Maps   []anyvec.Mapper
}

func (m *maxPoolRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *maxPoolRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *maxPoolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	cr := u.Creator()
	transposer := m.Layer.getTransposer(cr)
	outSize := u.Len() / len(m.Maps)
	upPieces := make([]anyvec.Vector, len(m.Maps))
	for i, mapper := range m.Maps {
		permed := cr.MakeVector(mapper.InSize())
		mapper.MapTranspose(u.Slice(outSize*i, outSize*(i+1)), permed)
		upPiece := cr.MakeVector(transposer.InSize())
		transposer.MapTranspose(permed, upPiece)
		upPieces[i] = upPiece
	}
	m.In.Propagate(cr.Concat(upPieces...), g)
}
