package encoder

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/gednet"
	"github.com/unixpickle/serializer"
)

func debertaConfig(shareKeys bool) *Config {
	noAbsolute := false
	return &Config{
		ModelType:           "deberta-v2",
		VocabSize:           11,
		HiddenSize:          4,
		NumLayers:           2,
		NumHeads:            2,
		IntermediateSize:    6,
		MaxPositions:        8,
		HiddenAct:           "gelu",
		LayerNormEps:        1e-7,
		HiddenDropout:       0.1,
		AttentionDropout:    0.1,
		PositionBiasedInput: &noAbsolute,
		RelativeAttention:   true,
		PositionBuckets:     4,
		PosAttType:          AttnTypes{"p2c", "c2p"},
		ShareAttKey:         shareKeys,
		NormRelEmbedding:    "layer_norm",
	}
}

func TestLogBucket(t *testing.T) {
	expected := map[int]int{0: 0, 3: 3, 4: 4, 5: 5, 6: 5, 8: 6, 20: 7, 31: 7, -5: -5, -20: -7}
	for rel, bucket := range expected {
		assert.Equal(t, bucket, logBucket(rel, 8, 32), "relative position %d", rel)
	}
}

func TestRelativeIndices(t *testing.T) {
	cfg := debertaConfig(true)
	cfg.PositionBuckets = 0
	cfg.MaxRelativePositions = 2
	c2p, p2c := relativeIndices(cfg, 3)
	assert.Equal(t, []int{2, 1, 0, 7, 6, 5, 11, 11, 10}, c2p)
	assert.Equal(t, []int{2, 5, 8, 3, 6, 9, 3, 7, 10}, p2c)
}

func TestAttnTypesJSON(t *testing.T) {
	data, err := json.Marshal(debertaConfig(true))
	require.NoError(t, err)
	var cfg Config
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, AttnTypes{"p2c", "c2p"}, cfg.PosAttType)
	assert.False(t, cfg.AbsolutePositions())

	var joined, list AttnTypes
	require.NoError(t, json.Unmarshal([]byte(`"p2c|c2p"`), &joined))
	require.NoError(t, json.Unmarshal([]byte(`["c2p"]`), &list))
	assert.Equal(t, AttnTypes{"p2c", "c2p"}, joined)
	assert.Equal(t, AttnTypes{"c2p"}, list)
	assert.True(t, joined.Contains("c2p"))
	assert.False(t, list.Contains("p2c"))
}

func TestDeBERTaStructure(t *testing.T) {
	shared := New(anyvec64.DefaultCreator{}, debertaConfig(true))
	assert.Nil(t, shared.PositionEmbeddings)
	assert.Nil(t, shared.TokenTypeEmbeddings)
	assert.Equal(t, 2*4*4, shared.RelEmbeddings.Vector.Len())
	assert.NotNil(t, shared.RelNorm)
	assert.Nil(t, shared.Blocks[0].Attention.PosKey)
	assert.InDelta(t, 1/math.Sqrt(6), shared.Blocks[0].Attention.Scale, 1e-12)

	separate := New(anyvec64.DefaultCreator{}, debertaConfig(false))
	assert.NotNil(t, separate.Blocks[1].Attention.PosKey)
	assert.NotNil(t, separate.Blocks[1].Attention.PosQuery)
	assert.Equal(t, len(shared.Parameters())+2*4, len(separate.Parameters()))
}

func TestDeBERTaNamedParameters(t *testing.T) {
	e := testEncoder(debertaConfig(false))
	named := e.NamedParameters()
	params := e.Parameters()
	require.Equal(t, len(params), len(named))
	names := map[string]bool{}
	for i, p := range named {
		assert.True(t, p.Var == params[i], "parameter %d (%s) out of order", i, p.Name)
		names[p.Name] = true
	}
	for _, name := range []string{
		"encoder.layer.0.attention.self.query_proj.weight",
		"encoder.layer.1.attention.self.value_proj.bias",
		"encoder.layer.1.attention.self.pos_key_proj.weight",
		"encoder.layer.0.attention.self.pos_query_proj.bias",
		"encoder.rel_embeddings.weight",
		"encoder.LayerNorm.weight",
	} {
		assert.True(t, names[name], "missing %s", name)
	}
	assert.False(t, names["embeddings.position_embeddings.weight"])
	assert.False(t, names["encoder.layer.0.attention.self.query.weight"])
}

func TestDeBERTaLoadState(t *testing.T) {
	source := testEncoder(debertaConfig(false))
	state := stateDict(source, "deberta.")
	state["pooler.dense.weight"] = []float32{1}

	dest := testEncoder(debertaConfig(false))
	require.NoError(t, dest.LoadState(state))

	ids := []int{2, 7, 4, 3, 0}
	mask := []int{1, 1, 1, 1, 0}
	expected := applyIDs(source, ids, mask, 1)
	actual := applyIDs(dest, ids, mask, 1)
	for i, x := range expected {
		assert.InDelta(t, x, actual[i], 1e-3)
	}

	delete(state, "deberta.encoder.rel_embeddings.weight")
	err := testEncoder(debertaConfig(false)).LoadState(state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rel_embeddings")
}

func TestDeBERTaPadding(t *testing.T) {
	for _, shared := range []bool{true, false} {
		e := testEncoder(debertaConfig(shared))
		short := applyIDs(e, []int{4, 9, 2}, []int{1, 1, 1}, 1)
		padded := applyIDs(e, []int{4, 9, 2, 7, 3}, []int{1, 1, 1, 0, 0}, 1)
		for i, x := range short {
			assert.InDelta(t, x, padded[i], 1e-8, "output %d", i)
		}
		// Padding tokens are zeroed after the embeddings, so
		// their outputs do not depend on their IDs.
		otherPad := applyIDs(e, []int{4, 9, 2, 1, 1}, []int{1, 1, 1, 0, 0}, 1)
		for i := range padded {
			assert.InDelta(t, padded[i], otherPad[i], 1e-8, "output %d", i)
		}
	}
}

func TestDeBERTaLongSequence(t *testing.T) {
	// Without absolute positions, sequences may exceed the
	// position table.
	e := testEncoder(debertaConfig(true))
	ids := make([]int, 12)
	mask := make([]int, 12)
	for i := range ids {
		ids[i] = i % 11
		mask[i] = 1
	}
	out := applyIDs(e, ids, mask, 1)
	require.Len(t, out, 12*4)
	for i, x := range out {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "output %d is %f", i, x)
	}
}

func TestDeBERTaAttention(t *testing.T) {
	for _, shared := range []bool{true, false} {
		cfg := debertaConfig(shared)
		e := testEncoder(cfg)
		a := e.Blocks[0].Attention

		c := anyvec64.DefaultCreator{}
		seqLen := 4
		mask := &Mask{Batch: 1, SeqLen: seqLen, Values: []int{1, 1, 1, 0}}
		in := c.MakeVector(seqLen * cfg.HiddenSize)
		anyvec.Rand(in, anyvec.Normal, nil)

		rel := e.relative(c, seqLen)
		actual := a.Apply(anydiff.NewConst(in), mask, rel).Output().Data().([]float64)
		expected := referenceAttention(cfg, a, in.Data().([]float64),
			rel.Embeddings.Output().Data().([]float64), mask.Values)
		require.Equal(t, len(expected), len(actual))
		for i, x := range expected {
			assert.InDelta(t, x, actual[i], 1e-8, "shared=%v output %d", shared, i)
		}
	}
}

func TestDeBERTaProp(t *testing.T) {
	for _, shared := range []bool{true, false} {
		cfg := debertaConfig(shared)
		cfg.NumLayers = 1
		e := testEncoder(cfg)
		in := anydiff.NewConst(Pack(anyvec64.DefaultCreator{}, []int{1, 2, 0, 3, 4, 5},
			[]int{1, 1, 0, 1, 1, 1}, 2))
		checker := anydifftest.ResChecker{
			F: func() anydiff.Res {
				return e.Apply(in, 2)
			},
			V:     e.Parameters(),
			Delta: 1e-6,
			Prec:  1e-4,
		}
		checker.FullCheck(t)
	}
}

func TestDeBERTaSerialize(t *testing.T) {
	e := testEncoder(debertaConfig(false))
	data, err := serializer.SerializeAny(e)
	require.NoError(t, err)
	var e1 *Encoder
	require.NoError(t, serializer.DeserializeAny(data, &e1))
	assert.True(t, reflect.DeepEqual(e.Config, e1.Config))

	ids := []int{1, 2, 3, 0}
	mask := []int{1, 1, 1, 0}
	assert.Equal(t, applyIDs(e, ids, mask, 1), applyIDs(e1, ids, mask, 1))
}

// referenceAttention computes DeBERTa attention for one
// sequence with plain loops.
func referenceAttention(cfg *Config, a *Attention, in, relEmb []float64,
	mask []int) []float64 {
	hidden := cfg.HiddenSize
	seqLen := len(mask)
	span := cfg.RelativeSpan()
	q := linear(a.Query, in)
	k := linear(a.Key, in)
	v := linear(a.Value, in)
	posKey, posQuery := a.Key, a.Query
	if a.PosKey != nil {
		posKey, posQuery = a.PosKey, a.PosQuery
	}
	pk := linear(posKey, relEmb)
	pq := linear(posQuery, relEmb)

	d := hidden / a.NumHeads
	dot := func(x []float64, i int, y []float64, j int, h int) float64 {
		var sum float64
		for z := h * d; z < (h+1)*d; z++ {
			sum += x[i*hidden+z] * y[j*hidden+z]
		}
		return sum
	}

	ctx := make([]float64, seqLen*hidden)
	for h := 0; h < a.NumHeads; h++ {
		for i := 0; i < seqLen; i++ {
			if mask[i] == 0 {
				continue
			}
			scores := make([]float64, seqLen)
			maxScore := math.Inf(-1)
			for j := 0; j < seqLen; j++ {
				r := cfg.RelativePosition(i, j) + span
				if r < 0 {
					r = 0
				} else if r >= 2*span {
					r = 2*span - 1
				}
				s := dot(q, i, k, j, h) + dot(q, i, pk, r, h) + dot(k, j, pq, r, h)
				s *= a.Scale
				if mask[j] == 0 {
					s += maskValue
				}
				scores[j] = s
				maxScore = math.Max(maxScore, s)
			}
			var total float64
			for j := range scores {
				scores[j] = math.Exp(scores[j] - maxScore)
				total += scores[j]
			}
			for j := range scores {
				for z := h * d; z < (h+1)*d; z++ {
					ctx[i*hidden+z] += scores[j] / total * v[j*hidden+z]
				}
			}
		}
	}
	return linear(a.Output, ctx)
}

func linear(f *gednet.FC, in []float64) []float64 {
	weights := f.Weights.Vector.Data().([]float64)
	biases := f.Biases.Vector.Data().([]float64)
	rows := len(in) / f.InCount
	res := make([]float64, 0, rows*f.OutCount)
	for r := 0; r < rows; r++ {
		for o := 0; o < f.OutCount; o++ {
			sum := biases[o]
			for i := 0; i < f.InCount; i++ {
				sum += weights[o*f.InCount+i] * in[r*f.InCount+i]
			}
			res = append(res, sum)
		}
	}
	return res
}
