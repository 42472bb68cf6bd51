package dataset

import (
	"crypto/md5"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/gednet/encoder"
	"github.com/unixpickle/gednet/optim"
)

// A Set is an ordered list of encoded examples.
//
// It implements optim.SampleList and optim.Hasher.
type Set []*Encoded

// Len returns the number of examples.
func (s Set) Len() int {
	return len(s)
}

// Swap swaps two examples.
func (s Set) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Slice copies a sub-slice of the set.
func (s Set) Slice(i, j int) optim.SampleList {
	return append(Set{}, s[i:j]...)
}

// Hash hashes the token IDs of an example.
func (s Set) Hash(i int) []byte {
	h := md5.New()
	for _, id := range s[i].IDs {
		h.Write([]byte(strconv.Itoa(id)))
		h.Write([]byte{' '})
	}
	return h.Sum(nil)
}

// Labels returns the label of every example.
func (s Set) Labels() []int {
	res := make([]int, len(s))
	for i, e := range s {
		res[i] = e.Label
	}
	return res
}

// Split deterministically partitions the set into a
// training set and a validation set containing roughly
// valRatio of the examples.
//
// The set may be re-ordered.
func Split(s Set, valRatio float64) (train, val Set) {
	v, t := optim.HashSplit(s, valRatio)
	return t.(Set), v.(Set)
}

// A Batch packs a group of encoded examples.
type Batch struct {
	// IDs and Mask contain Num sequences of length SeqLen,
	// one after another.
	IDs  []int
	Mask []int

	Labels []int
	Num    int
	SeqLen int
}

// Batches groups the set into batches of batchSize
// examples.
// The last batch may be smaller.
//
// If shuffle is set, examples are put in a random order
// first, using r (or the global source if r is nil).
// Otherwise, the order of the set is preserved.
func Batches(s Set, batchSize int, shuffle bool, r *rand.Rand) []*Batch {
	if batchSize <= 0 {
		panic("batch size must be positive")
	}
	if shuffle {
		s = s.Slice(0, s.Len()).(Set)
		optim.Shuffle(s, r)
	}
	var res []*Batch
	for i := 0; i < len(s); i += batchSize {
		end := i + batchSize
		if end > len(s) {
			end = len(s)
		}
		res = append(res, NewBatch(s[i:end]))
	}
	return res
}

// NumBatches computes the number of batches Batches will
// produce.
func NumBatches(size, batchSize int) int {
	return (size + batchSize - 1) / batchSize
}

// NewBatch packs the examples into a batch.
func NewBatch(examples []*Encoded) *Batch {
	res := &Batch{Num: len(examples)}
	for _, e := range examples {
		res.IDs = append(res.IDs, e.IDs...)
		res.Mask = append(res.Mask, e.Mask...)
		res.Labels = append(res.Labels, e.Label)
	}
	if len(examples) > 0 {
		res.SeqLen = len(examples[0].IDs)
	}
	return res
}

// Input creates the encoder input for the batch.
func (b *Batch) Input(c anyvec.Creator) anydiff.Res {
	return anydiff.NewConst(encoder.Pack(c, b.IDs, b.Mask, b.Num))
}

func (s Set) checkLengths() error {
	for i, e := range s {
		if len(e.IDs) != len(e.Mask) {
			return fmt.Errorf("example %d: %d IDs but %d mask values", i, len(e.IDs),
				len(e.Mask))
		}
		if len(e.IDs) != len(s[0].IDs) {
			return fmt.Errorf("example %d: length %d differs from %d", i, len(e.IDs),
				len(s[0].IDs))
		}
	}
	return nil
}
