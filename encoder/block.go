package encoder

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/gednet"
)

// A Block is one transformer layer: self-attention and a
// feed-forward network, each wrapped in a residual
// connection followed by layer normalization.
type Block struct {
	Attention     *Attention
	AttentionNorm *gednet.LayerNorm

	// FeedForward is a two-layer network ending in dropout.
	FeedForward gednet.Net
	OutputNorm  *gednet.LayerNorm
}

func newBlock(c anyvec.Creator, cfg *Config) *Block {
	act, err := cfg.activation()
	if err != nil {
		panic(err)
	}
	h := cfg.HiddenSize
	return &Block{
		Attention:     newAttention(c, cfg),
		AttentionNorm: gednet.NewLayerNorm(c, h, cfg.LayerNormEps),
		FeedForward: gednet.Net{
			gednet.NewFCStddev(c, h, cfg.IntermediateSize, initStddev),
			act,
			gednet.NewFCStddev(c, cfg.IntermediateSize, h, initStddev),
			&gednet.Dropout{DropProb: cfg.HiddenDropout},
		},
		OutputNorm: gednet.NewLayerNorm(c, h, cfg.LayerNormEps),
	}
}

// Apply applies the block to a batch of hidden states.
//
// The rel argument may be nil for absolute positions.
func (b *Block) Apply(in anydiff.Res, m *Mask, rel *relative) anydiff.Res {
	rows := m.Batch * m.SeqLen
	attn := &gednet.Residual{
		Layer: &maskedAttention{Attention: b.Attention, Mask: m, Relative: rel},
		Out:   b.AttentionNorm,
	}
	ff := &gednet.Residual{Layer: b.FeedForward, Out: b.OutputNorm}
	return ff.Apply(attn.Apply(in, rows), rows)
}

// Parameters returns the parameters of the block.
func (b *Block) Parameters() []*anydiff.Var {
	return gednet.AllParameters(b.Attention, b.AttentionNorm, b.FeedForward,
		b.OutputNorm)
}

// SetTraining toggles dropout.
func (b *Block) SetTraining(t bool) {
	b.Attention.SetTraining(t)
	b.FeedForward.SetTraining(t)
}

type maskedAttention struct {
	Attention *Attention
	Mask      *Mask
	Relative  *relative
}

func (m *maskedAttention) Apply(in anydiff.Res, n int) anydiff.Res {
	return m.Attention.Apply(in, m.Mask, m.Relative)
}
