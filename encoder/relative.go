package encoder

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// relative holds what every attention layer of a
// DeBERTa encoder needs for disentangled attention over
// one batch.
type relative struct {
	// Embeddings has 2*Span rows, one per relative
	// position from -Span to Span-1.
	Embeddings anydiff.Res
	Span       int

	// C2P and P2C select, for every query-key pair, the
	// score against the pair's relative position from a
	// [seq][2*Span] score matrix.
	// Either may be nil if the term is disabled.
	C2P anyvec.Mapper
	P2C anyvec.Mapper
}

// relative prepares the relative attention terms for a
// sequence length, or returns nil if the encoder uses
// absolute positions only.
func (e *Encoder) relative(c anyvec.Creator, seqLen int) *relative {
	if e.RelEmbeddings == nil {
		return nil
	}
	span := e.Config.RelativeSpan()
	c2p, p2c := relativeIndices(e.Config, seqLen)
	res := &relative{Span: span}
	var emb anydiff.Res = e.RelEmbeddings
	if e.RelNorm != nil {
		emb = e.RelNorm.Apply(emb, 2*span)
	}
	res.Embeddings = emb
	inSize := seqLen * 2 * span
	if e.Config.PosAttType.Contains("c2p") {
		res.C2P = c.MakeMapper(inSize, c2p)
	}
	if e.Config.PosAttType.Contains("p2c") {
		res.P2C = c.MakeMapper(inSize, p2c)
	}
	return res
}

// relativeIndices computes the gather tables for the
// content-to-position and position-to-content terms.
//
// For query a and key b, with r the clamped relative
// position of b from a, the c2p term reads row a of the
// query-by-position scores and the p2c term reads row b
// of the key-by-position scores, both at column r.
func relativeIndices(cfg *Config, seqLen int) (c2p, p2c []int) {
	span := cfg.RelativeSpan()
	for a := 0; a < seqLen; a++ {
		for b := 0; b < seqLen; b++ {
			r := cfg.RelativePosition(a, b) + span
			if r < 0 {
				r = 0
			} else if r >= 2*span {
				r = 2*span - 1
			}
			c2p = append(c2p, a*2*span+r)
			p2c = append(p2c, b*2*span+r)
		}
	}
	return
}
