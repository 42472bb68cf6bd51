package dataset

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/gednet/tokenize"
)

// wordEncoder gives each word its length as an ID.
type wordEncoder struct {
	MaxLen int
}

func (w *wordEncoder) Encode(text string) ([]int, []int, error) {
	if text == "fail" {
		return nil, nil, errors.New("cannot encode")
	}
	var ids []int
	for _, word := range strings.Fields(text) {
		ids = append(ids, len(word))
	}
	ids, mask := tokenize.Fit(ids, w.MaxLen, 0)
	return ids, mask, nil
}

func testExamples(n int) []*Example {
	var res []*Example
	for i := 0; i < n; i++ {
		res = append(res, &Example{
			Text:     strings.Repeat("ab ", i%5+1) + strings.Repeat("c", i+1),
			Label:    i % 2,
			HasLabel: true,
		})
	}
	return res
}

func TestEncode(t *testing.T) {
	examples := testExamples(20)
	examples = append(examples, &Example{Text: "xyz"})
	set, err := Encode(context.Background(), &wordEncoder{MaxLen: 8}, examples, 3)
	require.NoError(t, err)
	require.Len(t, set, 21)
	assert.Equal(t, []int{2, 1, 0, 0, 0, 0, 0, 0}, set[0].IDs)
	assert.Equal(t, []int{1, 1, 0, 0, 0, 0, 0, 0}, set[0].Mask)
	assert.Equal(t, 1, set[1].Label)
	assert.Equal(t, 0, set[20].Label)
	assert.Equal(t, []int{3, 0, 0, 0, 0, 0, 0, 0}, set[20].IDs)
}

func TestEncodeErrors(t *testing.T) {
	examples := append(testExamples(5), &Example{Text: "fail"})
	_, err := Encode(context.Background(), &wordEncoder{MaxLen: 4}, examples, 0)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Encode(ctx, &wordEncoder{MaxLen: 4}, testExamples(5), 2)
	assert.Equal(t, context.Canceled, err)
}

func TestBatches(t *testing.T) {
	set, err := Encode(context.Background(), &wordEncoder{MaxLen: 6}, testExamples(37), 0)
	require.NoError(t, err)

	batches := Batches(set, 16, false, nil)
	require.Len(t, batches, NumBatches(37, 16))
	assert.Equal(t, []int{16, 16, 5}, []int{batches[0].Num, batches[1].Num, batches[2].Num})
	assert.Equal(t, 6, batches[2].SeqLen)
	assert.Len(t, batches[2].IDs, 5*6)
	assert.Equal(t, set[32].IDs, batches[2].IDs[:6])

	var labels []int
	for _, b := range batches {
		labels = append(labels, b.Labels...)
	}
	assert.Equal(t, set.Labels(), labels)

	before := append(Set{}, set...)
	shuffled := Batches(set, 16, true, rand.New(rand.NewSource(1337)))
	require.Len(t, shuffled, 3)
	var shuffledLabels []int
	for _, b := range shuffled {
		shuffledLabels = append(shuffledLabels, b.Labels...)
	}
	assert.ElementsMatch(t, set.Labels(), shuffledLabels)
	assert.Equal(t, before, set, "shuffling modified the set")
}

func TestBatchInput(t *testing.T) {
	b := NewBatch([]*Encoded{
		{IDs: []int{4, 5}, Mask: []int{1, 0}, Label: 1},
		{IDs: []int{6, 7}, Mask: []int{1, 1}, Label: 0},
	})
	in := b.Input(anyvec64.DefaultCreator{})
	assert.Equal(t, []float64{4, 5, 1, 0, 6, 7, 1, 1}, in.Output().Data().([]float64))
	assert.Equal(t, []int{1, 0}, b.Labels)
}

func TestSplit(t *testing.T) {
	set, err := Encode(context.Background(), &wordEncoder{MaxLen: 40}, testExamples(30), 0)
	require.NoError(t, err)
	original := append(Set{}, set...)

	train, val := Split(set, 0.2)
	assert.Equal(t, 30, len(train)+len(val))

	train2, val2 := Split(original, 0.2)
	assert.ElementsMatch(t, train, train2)
	assert.ElementsMatch(t, val, val2)

	train, val = Split(original, 0)
	assert.Len(t, train, 30)
	assert.Len(t, val, 0)
}
