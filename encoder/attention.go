package encoder

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/gednet"
)

// maskValue is added to the attention scores of padding
// keys.
const maskValue = -10000

// Attention is a multi-head self-attention layer with an
// output projection.
//
// With relative positions, the scores of every head also
// include disentangled content-to-position and
// position-to-content terms, as in DeBERTa.
type Attention struct {
	NumHeads int

	// Scale multiplies the attention scores.
	Scale float64

	Query  *gednet.FC
	Key    *gednet.FC
	Value  *gednet.FC
	Output *gednet.FC

	// PosKey and PosQuery project the relative position
	// embeddings.
	// If they are nil, Key and Query are shared between
	// content and positions.
	PosKey   *gednet.FC
	PosQuery *gednet.FC

	// ZeroPaddedQueries gives padding queries no attention
	// output at all.
	ZeroPaddedQueries bool

	// ProbDropout is applied to the attention weights.
	ProbDropout *gednet.Dropout

	// OutDropout is applied to the projected output.
	OutDropout *gednet.Dropout

	// PosDropout is applied to the relative position
	// embeddings.
	PosDropout *gednet.Dropout
}

func newAttention(c anyvec.Creator, cfg *Config) *Attention {
	h := cfg.HiddenSize
	terms := 1
	if cfg.IsDeBERTa() {
		for _, name := range []string{"c2p", "p2c"} {
			if cfg.PosAttType.Contains(name) {
				terms++
			}
		}
	}
	res := &Attention{
		NumHeads:          cfg.NumHeads,
		Scale:             1 / math.Sqrt(float64(cfg.HeadSize()*terms)),
		Query:             gednet.NewFCStddev(c, h, h, initStddev),
		Key:               gednet.NewFCStddev(c, h, h, initStddev),
		Value:             gednet.NewFCStddev(c, h, h, initStddev),
		Output:            gednet.NewFCStddev(c, h, h, initStddev),
		ZeroPaddedQueries: cfg.IsDeBERTa(),
		ProbDropout:       &gednet.Dropout{DropProb: cfg.AttentionDropout},
		OutDropout:        &gednet.Dropout{DropProb: cfg.HiddenDropout},
		PosDropout:        &gednet.Dropout{DropProb: cfg.HiddenDropout},
	}
	if cfg.RelativeAttention && !cfg.ShareAttKey {
		if cfg.PosAttType.Contains("c2p") {
			res.PosKey = gednet.NewFCStddev(c, h, h, initStddev)
		}
		if cfg.PosAttType.Contains("p2c") {
			res.PosQuery = gednet.NewFCStddev(c, h, h, initStddev)
		}
	}
	return res
}

// Apply applies attention to a batch of sequences.
//
// The input is a row-major [batch][seq][hidden] tensor.
// Keys at positions where the mask is 0 receive no
// attention.
//
// The rel argument may be nil for absolute positions.
func (a *Attention) Apply(in anydiff.Res, m *Mask, rel *relative) anydiff.Res {
	seqLen := m.SeqLen
	rows := m.Batch * seqLen
	hidden := a.Query.OutCount
	c := in.Output().Creator()
	posKeyT, posQueryT := a.positionProjections(rel)
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		q := a.Query.Apply(in, rows)
		k := a.Key.Apply(in, rows)
		v := a.Value.Apply(in, rows)
		return anydiff.Pool(q, func(q anydiff.Res) anydiff.Res {
			return anydiff.Pool(k, func(k anydiff.Res) anydiff.Res {
				return anydiff.Pool(v, func(v anydiff.Res) anydiff.Res {
					return poolMaybe(posKeyT, func(posKeyT anydiff.Res) anydiff.Res {
						return poolMaybe(posQueryT, func(posQueryT anydiff.Res) anydiff.Res {
							var pos *positional
							if rel != nil {
								pos = &positional{relative: rel, KeyT: posKeyT,
									QueryT: posQueryT}
							}
							var outs []anydiff.Res
							for i := 0; i < m.Batch; i++ {
								var queryMask anydiff.Res
								if a.ZeroPaddedQueries {
									queryMask = m.queryRows(c, i)
								}
								outs = append(outs, a.applySeq(
									transposeSeq(q, i, seqLen, hidden),
									transposeSeq(k, i, seqLen, hidden),
									transposeSeq(v, i, seqLen, hidden),
									m.additive(c, i),
									queryMask,
									pos,
									seqLen,
								))
							}
							joined := anydiff.Concat(outs...)
							return a.OutDropout.Apply(a.Output.Apply(joined, rows), 1)
						})
					})
				})
			})
		})
	})
}

// Parameters returns the parameters of the projections.
func (a *Attention) Parameters() []*anydiff.Var {
	res := gednet.AllParameters(a.Query, a.Key, a.Value, a.Output)
	for _, f := range []*gednet.FC{a.PosKey, a.PosQuery} {
		if f != nil {
			res = append(res, f.Parameters()...)
		}
	}
	return res
}

// SetTraining toggles dropout.
func (a *Attention) SetTraining(t bool) {
	a.ProbDropout.SetTraining(t)
	a.OutDropout.SetTraining(t)
	a.PosDropout.SetTraining(t)
}

// positional is a relative attention context with the
// position embeddings projected for one layer, each as a
// hidden-by-2*span matrix.
type positional struct {
	*relative

	// KeyT is used by the c2p term and QueryT by the p2c
	// term.
	KeyT   anydiff.Res
	QueryT anydiff.Res
}

func (a *Attention) positionProjections(rel *relative) (keyT, queryT anydiff.Res) {
	if rel == nil {
		return nil, nil
	}
	hidden := a.Query.OutCount
	rows := 2 * rel.Span
	emb := a.PosDropout.Apply(rel.Embeddings, 1)
	project := func(shared, own *gednet.FC) anydiff.Res {
		f := own
		if f == nil {
			f = shared
		}
		return transposeSeq(f.Apply(emb, rows), 0, rows, hidden)
	}
	if rel.C2P != nil {
		keyT = project(a.Key, a.PosKey)
	}
	if rel.P2C != nil {
		queryT = project(a.Query, a.PosQuery)
	}
	return
}

// applySeq attends within one sequence, given the query,
// key, and value matrices as hidden-by-seq matrices.
// The result is a seq-by-hidden matrix.
//
// The queryMask and pos arguments may be nil.
func (a *Attention) applySeq(qT, kT, vT anydiff.Res, mask, queryMask anydiff.Res,
	pos *positional, seqLen int) anydiff.Res {
	hidden := qT.Output().Len() / seqLen
	headSize := hidden / a.NumHeads
	headLen := headSize * seqLen
	c := qT.Output().Creator()
	scale := c.MakeNumeric(a.Scale)

	return anydiff.Pool(qT, func(qT anydiff.Res) anydiff.Res {
		return anydiff.Pool(kT, func(kT anydiff.Res) anydiff.Res {
			return anydiff.Pool(vT, func(vT anydiff.Res) anydiff.Res {
				var heads []anydiff.Res
				for h := 0; h < a.NumHeads; h++ {
					qh := &anydiff.Matrix{
						Data: anydiff.Slice(qT, h*headLen, (h+1)*headLen),
						Rows: headSize,
						Cols: seqLen,
					}
					kh := &anydiff.Matrix{
						Data: anydiff.Slice(kT, h*headLen, (h+1)*headLen),
						Rows: headSize,
						Cols: seqLen,
					}
					vh := &anydiff.Matrix{
						Data: anydiff.Slice(vT, h*headLen, (h+1)*headLen),
						Rows: headSize,
						Cols: seqLen,
					}
					scores := anydiff.MatMul(true, false, qh, kh).Data
					if pos != nil {
						scores = pos.addScores(scores, qh, kh, h)
					}
					scores = anydiff.Scale(scores, scale)
					scores = anydiff.AddRepeated(scores, mask)
					probs := anydiff.Exp(anydiff.LogSoftmax(scores, seqLen))
					if queryMask != nil {
						probs = anydiff.Mul(probs, queryMask)
					}
					probs = a.ProbDropout.Apply(probs, 1)
					probMat := &anydiff.Matrix{Data: probs, Rows: seqLen, Cols: seqLen}
					heads = append(heads, anydiff.MatMul(false, true, vh, probMat).Data)
				}
				ctx := &anydiff.Matrix{
					Data: anydiff.Concat(heads...),
					Rows: hidden,
					Cols: seqLen,
				}
				return anydiff.Transpose(ctx).Data
			})
		})
	})
}

// addScores adds the relative terms of head h to a
// seq-by-seq matrix of content scores.
func (p *positional) addScores(scores anydiff.Res, qh, kh *anydiff.Matrix,
	h int) anydiff.Res {
	headSize := qh.Rows
	relLen := headSize * 2 * p.Span
	headPos := func(t anydiff.Res) *anydiff.Matrix {
		return &anydiff.Matrix{
			Data: anydiff.Slice(t, h*relLen, (h+1)*relLen),
			Rows: headSize,
			Cols: 2 * p.Span,
		}
	}
	if p.C2P != nil {
		c2p := anydiff.MatMul(true, false, qh, headPos(p.KeyT)).Data
		scores = anydiff.Add(scores, gather(c2p, p.C2P))
	}
	if p.P2C != nil {
		p2c := anydiff.MatMul(true, false, kh, headPos(p.QueryT)).Data
		scores = anydiff.Add(scores, gather(p2c, p.P2C))
	}
	return scores
}

// transposeSeq extracts the i-th seq-by-hidden matrix from
// a batch and transposes it.
func transposeSeq(batch anydiff.Res, i, seqLen, hidden int) anydiff.Res {
	seqSize := seqLen * hidden
	mat := &anydiff.Matrix{
		Data: anydiff.Slice(batch, i*seqSize, (i+1)*seqSize),
		Rows: seqLen,
		Cols: hidden,
	}
	return anydiff.Transpose(mat).Data
}

// poolMaybe is like anydiff.Pool, but passes nil through.
func poolMaybe(r anydiff.Res, f func(anydiff.Res) anydiff.Res) anydiff.Res {
	if r == nil {
		return f(nil)
	}
	return anydiff.Pool(r, f)
}
