package seqconv

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/unixpickle/anyvec"
)

// A Window maps the (possibly overlapping) windows of a
// zero-padded sequence to rows of a matrix.
//
// Sequences are row-major: a sequence of Length steps
// with Depth channels is stored as Length consecutive
// vectors of Depth components.
//
// The i-th row of the matrix contains the Size steps that
// start at position i of the padded sequence.
//
// A Window caches its mappers.
// You should not modify a Window after using it.
type Window struct {
	Size    int
	Padding int

	Length int
	Depth  int

	lock      sync.Mutex
	creator   anyvec.Creator
	padMapper anyvec.Mapper
	rowMapper anyvec.Mapper
}

// InputSize returns the number of components in an
// unpadded input sequence.
func (w *Window) InputSize() int {
	return w.Length * w.Depth
}

// PaddedLength returns the number of steps in a padded
// input sequence.
func (w *Window) PaddedLength() int {
	return w.Length + 2*w.Padding
}

// NumRows returns the number of window positions.
func (w *Window) NumRows() int {
	n := w.PaddedLength() - w.Size + 1
	if n < 0 {
		return 0
	}
	return n
}

// RowSize returns the number of components in each row.
func (w *Window) RowSize() int {
	return w.Size * w.Depth
}

// MakeOut allocates a row matrix for the output of Map.
func (w *Window) MakeOut(c anyvec.Creator) *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.MakeVector(w.NumRows() * w.RowSize()),
		Rows: w.NumRows(),
		Cols: w.RowSize(),
	}
}

// Map maps a single unpadded sequence to a row matrix.
func (w *Window) Map(seq anyvec.Vector, out *anyvec.Matrix) {
	padMapper, rowMapper := w.mappers(seq.Creator())
	padded := seq.Creator().MakeVector(padMapper.InSize())
	padMapper.MapTranspose(seq, padded)
	rowMapper.Map(padded, out.Data)
}

// MapTranspose computes the gradient of Map.
// It converts upstream row matrix values back into an
// unpadded sequence, summing the contributions of
// overlapping windows.
func (w *Window) MapTranspose(rows anyvec.Vector) anyvec.Vector {
	c := rows.Creator()
	padMapper, rowMapper := w.mappers(c)
	padded := c.MakeVector(rowMapper.InSize())
	rowMapper.MapTranspose(rows, padded)
	res := c.MakeVector(w.InputSize())
	padMapper.Map(padded, res)
	return res
}

// MapAll maps every packed sequence in a batch and calls
// f with each resulting row matrix.
//
// The matrix passed to f may be reused between calls, so
// f should not retain it.
// If parallel is set, f may be called concurrently and
// out of order.
func (w *Window) MapAll(in anyvec.Vector, parallel bool, f func(idx int, m *anyvec.Matrix)) {
	inSize := w.InputSize()
	if in.Len()%inSize != 0 {
		panic(fmt.Sprintf("input length %d not divisible by %d", in.Len(), inSize))
	}
	n := in.Len() / inSize
	mapAndCall := func(i int, m *anyvec.Matrix) {
		w.Map(in.Slice(inSize*i, inSize*(i+1)), m)
		f(i, m)
	}
	if parallel {
		w.CallParallel(in.Creator(), n, mapAndCall)
	} else {
		m := w.MakeOut(in.Creator())
		for i := 0; i < n; i++ {
			mapAndCall(i, m)
		}
	}
}

// CallParallel calls f for every index in [0, n) from a
// pool of goroutines, giving each goroutine its own
// scratch matrix.
// The matrix may contain arbitrary junk when it is passed
// to f.
func (w *Window) CallParallel(c anyvec.Creator, n int, f func(int, *anyvec.Matrix)) {
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < runtime.GOMAXPROCS(0); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := w.MakeOut(c)
			for i := range jobs {
				f(i, m)
			}
		}()
	}
	wg.Wait()
}

func (w *Window) mappers(c anyvec.Creator) (pad, rows anyvec.Mapper) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.padMapper != nil && w.creator == c {
		return w.padMapper, w.rowMapper
	}

	paddedSize := w.PaddedLength() * w.Depth
	padTable := make([]int, 0, w.InputSize())
	for i := 0; i < w.InputSize(); i++ {
		padTable = append(padTable, i+w.Padding*w.Depth)
	}

	rowTable := make([]int, 0, w.NumRows()*w.RowSize())
	for start := 0; start < w.NumRows(); start++ {
		offset := start * w.Depth
		for i := 0; i < w.RowSize(); i++ {
			rowTable = append(rowTable, offset+i)
		}
	}

	w.creator = c
	w.padMapper = c.MakeMapper(paddedSize, padTable)
	w.rowMapper = c.MakeMapper(paddedSize, rowTable)
	return w.padMapper, w.rowMapper
}
