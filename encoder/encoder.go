// Package encoder implements a pretrained BERT-style
// transformer encoder as a gednet.Layer.
//
// BERT, RoBERTa and DeBERTa-v2 checkpoints are supported.
//
// The encoder consumes packed token sequences (see Pack)
// and produces the final hidden state of every token.
package encoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gednet"
	"github.com/unixpickle/serializer"
)

const initStddev = 0.02

func init() {
	var e Encoder
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEncoder)
	var c Config
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConfig)
}

// An Encoder is a stack of transformer blocks on top of
// word, position, and token type embeddings.
// Models may lack position or token type embeddings, in
// which case those fields are nil.
//
// Every input sequence in a batch is packed as its token
// IDs followed by its attention mask (1 for real tokens,
// 0 for padding), all as numbers.
// The output is a row-major [batch][seq][hidden] tensor.
type Encoder struct {
	Config *Config

	WordEmbeddings      *anydiff.Var
	PositionEmbeddings  *anydiff.Var
	TokenTypeEmbeddings *anydiff.Var

	EmbeddingNorm    *gednet.LayerNorm
	EmbeddingDropout *gednet.Dropout

	Blocks []*Block

	// RelEmbeddings is non-nil for relative attention.
	// It has one row per relative position, shared by
	// every block.
	RelEmbeddings *anydiff.Var

	// RelNorm may be nil.
	RelNorm *gednet.LayerNorm
}

// New creates a randomly initialized Encoder.
func New(c anyvec.Creator, cfg *Config) *Encoder {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	h := cfg.HiddenSize
	res := &Encoder{
		Config:           cfg,
		WordEmbeddings:   randomVar(c, cfg.VocabSize*h),
		EmbeddingNorm:    gednet.NewLayerNorm(c, h, cfg.LayerNormEps),
		EmbeddingDropout: &gednet.Dropout{DropProb: cfg.HiddenDropout},
	}
	if cfg.AbsolutePositions() {
		res.PositionEmbeddings = randomVar(c, cfg.MaxPositions*h)
	}
	if cfg.TypeVocabSize > 0 {
		res.TokenTypeEmbeddings = randomVar(c, cfg.TypeVocabSize*h)
	}
	for i := 0; i < cfg.NumLayers; i++ {
		res.Blocks = append(res.Blocks, newBlock(c, cfg))
	}
	if cfg.RelativeAttention {
		res.RelEmbeddings = randomVar(c, 2*cfg.RelativeSpan()*h)
		if strings.Contains(cfg.NormRelEmbedding, "layer_norm") {
			res.RelNorm = gednet.NewLayerNorm(c, h, cfg.LayerNormEps)
		}
	}
	return res
}

// DeserializeEncoder deserializes an Encoder.
func DeserializeEncoder(d []byte) (*Encoder, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Encoder", err)
	}
	if len(slice) < 2 {
		return nil, errors.New("deserialize Encoder: missing parameters")
	}
	cfg, ok := slice[0].(*Config)
	if !ok {
		return nil, fmt.Errorf("deserialize Encoder: unexpected %T", slice[0])
	}
	var vecs []anyvec.Vector
	for _, x := range slice[1:] {
		s, ok := x.(*anyvecsave.S)
		if !ok {
			return nil, fmt.Errorf("deserialize Encoder: unexpected %T", x)
		}
		vecs = append(vecs, s.Vector)
	}

	res := New(vecs[0].Creator(), cfg)
	params := res.Parameters()
	if len(params) != len(vecs) {
		return nil, fmt.Errorf("deserialize Encoder: expected %d parameters but got %d",
			len(params), len(vecs))
	}
	for i, p := range params {
		if p.Vector.Len() != vecs[i].Len() {
			return nil, fmt.Errorf("deserialize Encoder: parameter %d has size %d (expected %d)",
				i, vecs[i].Len(), p.Vector.Len())
		}
		p.Vector = vecs[i]
	}
	return res, nil
}

// Apply encodes a batch of packed sequences.
func (e *Encoder) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	ids, mask := Unpack(in.Output(), batchSize)
	h := e.Config.HiddenSize
	rows := batchSize * mask.SeqLen
	c := in.Output().Creator()

	embedded := Lookup(e.WordEmbeddings, h, ids)
	if e.PositionEmbeddings != nil {
		if mask.SeqLen > e.Config.MaxPositions {
			panic(fmt.Sprintf("sequence length %d exceeds maximum of %d", mask.SeqLen,
				e.Config.MaxPositions))
		}
		var positions []int
		for i := 0; i < batchSize; i++ {
			seqIDs := ids[i*mask.SeqLen : (i+1)*mask.SeqLen]
			positions = append(positions, e.Config.PositionIDs(seqIDs)...)
		}
		embedded = anydiff.Add(embedded, Lookup(e.PositionEmbeddings, h, positions))
	}
	if e.TokenTypeEmbeddings != nil {
		embedded = anydiff.AddRepeated(embedded, anydiff.Slice(e.TokenTypeEmbeddings, 0, h))
	}

	normed := e.EmbeddingNorm.Apply(embedded, rows)
	if e.Config.IsDeBERTa() {
		normed = anydiff.Mul(normed, mask.tokenScale(c, h))
	}
	out := e.EmbeddingDropout.Apply(normed, 1)

	rel := e.relative(c, mask.SeqLen)
	if rel == nil {
		for _, b := range e.Blocks {
			out = b.Apply(out, mask, nil)
		}
		return out
	}
	return anydiff.Pool(rel.Embeddings, func(emb anydiff.Res) anydiff.Res {
		rel.Embeddings = emb
		for _, b := range e.Blocks {
			out = b.Apply(out, mask, rel)
		}
		return out
	})
}

// OutputDepth returns the size of each token's hidden
// state.
func (e *Encoder) OutputDepth() int {
	return e.Config.HiddenSize
}

// Parameters returns every learnable parameter, starting
// with the embeddings and ending with the relative
// position embeddings, if any.
func (e *Encoder) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{e.WordEmbeddings}
	for _, v := range []*anydiff.Var{e.PositionEmbeddings, e.TokenTypeEmbeddings} {
		if v != nil {
			res = append(res, v)
		}
	}
	res = append(res, e.EmbeddingNorm.Parameters()...)
	for _, b := range e.Blocks {
		res = append(res, b.Parameters()...)
	}
	if e.RelEmbeddings != nil {
		res = append(res, e.RelEmbeddings)
		if e.RelNorm != nil {
			res = append(res, e.RelNorm.Parameters()...)
		}
	}
	return res
}

// SetTraining toggles dropout throughout the encoder.
func (e *Encoder) SetTraining(t bool) {
	e.EmbeddingDropout.SetTraining(t)
	for _, b := range e.Blocks {
		b.SetTraining(t)
	}
}

// SerializerType returns the unique ID used to serialize
// an Encoder with the serializer package.
func (e *Encoder) SerializerType() string {
	return "github.com/unixpickle/gednet/encoder.Encoder"
}

// Serialize serializes the configuration and the
// parameters.
func (e *Encoder) Serialize() ([]byte, error) {
	slice := []serializer.Serializer{e.Config}
	for _, p := range e.Parameters() {
		slice = append(slice, &anyvecsave.S{Vector: p.Vector})
	}
	return serializer.SerializeSlice(slice)
}

// DeserializeConfig deserializes a Config.
func DeserializeConfig(d []byte) (*Config, error) {
	var res Config
	if err := json.Unmarshal(d, &res); err != nil {
		return nil, essentials.AddCtx("deserialize Config", err)
	}
	return &res, nil
}

// SerializerType returns the unique ID used to serialize
// a Config with the serializer package.
func (c *Config) SerializerType() string {
	return "github.com/unixpickle/gednet/encoder.Config"
}

// Serialize encodes the Config as JSON.
func (c *Config) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// A Mask records which tokens of a batch are real.
type Mask struct {
	Batch  int
	SeqLen int

	// Values contains one entry per token: 1 for real
	// tokens, 0 for padding.
	Values []int
}

// additive creates the row that is added to the attention
// scores of the i-th sequence.
func (m *Mask) additive(c anyvec.Creator, i int) anydiff.Res {
	vals := make([]float64, m.SeqLen)
	for j, x := range m.Values[i*m.SeqLen : (i+1)*m.SeqLen] {
		if x == 0 {
			vals[j] = maskValue
		}
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(vals)))
}

// queryRows creates a seq-by-seq matrix for the i-th
// sequence whose rows are 1 for real queries and 0 for
// padding queries.
func (m *Mask) queryRows(c anyvec.Creator, i int) anydiff.Res {
	vals := make([]float64, 0, m.SeqLen*m.SeqLen)
	for _, x := range m.Values[i*m.SeqLen : (i+1)*m.SeqLen] {
		for j := 0; j < m.SeqLen; j++ {
			vals = append(vals, float64(x))
		}
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(vals)))
}

// tokenScale creates a [batch][seq][hidden] tensor which
// is 1 for real tokens and 0 for padding.
func (m *Mask) tokenScale(c anyvec.Creator, hidden int) anydiff.Res {
	vals := make([]float64, 0, len(m.Values)*hidden)
	for _, x := range m.Values {
		for j := 0; j < hidden; j++ {
			vals = append(vals, float64(x))
		}
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(vals)))
}

// Pack creates an encoder input for a batch.
//
// The ids and mask slices contain batchSize sequences of
// equal length, one after another.
func Pack(c anyvec.Creator, ids, mask []int, batchSize int) anyvec.Vector {
	if len(ids) != len(mask) || len(ids)%batchSize != 0 {
		panic("ids and mask must be equal batches of sequences")
	}
	seqLen := len(ids) / batchSize
	data := make([]float64, 0, 2*len(ids))
	for i := 0; i < batchSize; i++ {
		for _, id := range ids[i*seqLen : (i+1)*seqLen] {
			data = append(data, float64(id))
		}
		for _, x := range mask[i*seqLen : (i+1)*seqLen] {
			data = append(data, float64(x))
		}
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

// Unpack is the inverse of Pack.
func Unpack(in anyvec.Vector, batchSize int) (ids []int, mask *Mask) {
	data := gednet.Floats(in)
	if len(data)%(2*batchSize) != 0 {
		panic(fmt.Sprintf("input length %d is not a batch of %d packed sequences",
			len(data), batchSize))
	}
	seqLen := len(data) / (2 * batchSize)
	mask = &Mask{Batch: batchSize, SeqLen: seqLen}
	for i := 0; i < batchSize; i++ {
		seq := data[2*seqLen*i : 2*seqLen*(i+1)]
		for _, x := range seq[:seqLen] {
			ids = append(ids, int(x+0.5))
		}
		for _, x := range seq[seqLen:] {
			mask.Values = append(mask.Values, int(x+0.5))
		}
	}
	return ids, mask
}

func randomVar(c anyvec.Creator, size int) *anydiff.Var {
	vec := c.MakeVector(size)
	anyvec.Rand(vec, anyvec.Normal, nil)
	vec.Scale(c.MakeNumeric(initStddev))
	return anydiff.NewVar(vec)
}
