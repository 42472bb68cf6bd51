package encoder

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Lookup selects rows of an embedding matrix.
//
// The table is a row-major matrix with rows of size dim.
// The result packs the selected rows one after another.
func Lookup(table anydiff.Res, dim int, ids []int) anydiff.Res {
	numRows := table.Output().Len() / dim
	indices := make([]int, 0, len(ids)*dim)
	for _, id := range ids {
		if id < 0 || id >= numRows {
			panic(fmt.Sprintf("embedding index %d out of range [0, %d)", id, numRows))
		}
		for i := 0; i < dim; i++ {
			indices = append(indices, id*dim+i)
		}
	}
	mapper := table.Output().Creator().MakeMapper(table.Output().Len(), indices)
	return gather(table, mapper)
}

// gather maps its input through a mapper, so that the
// i-th output is the input at the mapper's i-th index.
func gather(in anydiff.Res, mapper anyvec.Mapper) anydiff.Res {
	out := in.Output().Creator().MakeVector(mapper.OutSize())
	mapper.Map(in.Output(), out)
	return &lookupRes{
		Table:  in,
		Mapper: mapper,
		OutVec: out,
	}
}

type lookupRes struct {
	Table  anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (l *lookupRes) Output() anyvec.Vector {
	return l.OutVec
}

func (l *lookupRes) Vars() anydiff.VarSet {
	return l.Table.Vars()
}

func (l *lookupRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(l.Table.Vars()) {
		return
	}
	down := u.Creator().MakeVector(l.Mapper.InSize())
	l.Mapper.MapTranspose(u, down)
	l.Table.Propagate(down, g)
}
