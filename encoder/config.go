package encoder

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gednet"
)

// Config describes the shape of an Encoder.
//
// The JSON field names match the config.json files which
// accompany pretrained models.
type Config struct {
	ModelType string `json:"model_type"`

	VocabSize        int `json:"vocab_size"`
	HiddenSize       int `json:"hidden_size"`
	NumLayers        int `json:"num_hidden_layers"`
	NumHeads         int `json:"num_attention_heads"`
	IntermediateSize int `json:"intermediate_size"`
	MaxPositions     int `json:"max_position_embeddings"`
	TypeVocabSize    int `json:"type_vocab_size"`
	PadTokenID       int `json:"pad_token_id"`

	HiddenAct        string  `json:"hidden_act"`
	LayerNormEps     float64 `json:"layer_norm_eps"`
	HiddenDropout    float64 `json:"hidden_dropout_prob"`
	AttentionDropout float64 `json:"attention_probs_dropout_prob"`

	// The remaining fields configure DeBERTa-v2 models.

	// PositionBiasedInput indicates that absolute position
	// embeddings are added to the input.
	// If nil, it is true.
	PositionBiasedInput *bool `json:"position_biased_input,omitempty"`

	RelativeAttention    bool      `json:"relative_attention"`
	MaxRelativePositions int       `json:"max_relative_positions"`
	PositionBuckets      int       `json:"position_buckets"`
	PosAttType           AttnTypes `json:"pos_att_type"`
	ShareAttKey          bool      `json:"share_att_key"`
	NormRelEmbedding     string    `json:"norm_rel_ebd"`
	ConvKernelSize       int       `json:"conv_kernel_size"`
	EmbeddingSize        int       `json:"embedding_size"`
}

// AttnTypes lists the relative attention terms of a
// DeBERTa model, such as "c2p" and "p2c".
//
// In JSON, it may be a list or a "|" separated string.
type AttnTypes []string

// UnmarshalJSON decodes either JSON form.
func (a *AttnTypes) UnmarshalJSON(d []byte) error {
	var joined string
	if err := json.Unmarshal(d, &joined); err == nil {
		*a = nil
		for _, x := range strings.Split(joined, "|") {
			if x = strings.TrimSpace(x); x != "" {
				*a = append(*a, x)
			}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(d, &list); err != nil {
		return err
	}
	*a = list
	return nil
}

// Contains checks if a term is enabled.
func (a AttnTypes) Contains(name string) bool {
	for _, x := range a {
		if x == name {
			return true
		}
	}
	return false
}

// BaseConfig returns the configuration of a BERT-base
// model.
func BaseConfig() *Config {
	return &Config{
		ModelType:        "bert",
		VocabSize:        30522,
		HiddenSize:       768,
		NumLayers:        12,
		NumHeads:         12,
		IntermediateSize: 3072,
		MaxPositions:     512,
		TypeVocabSize:    2,
		HiddenAct:        "gelu",
		LayerNormEps:     1e-12,
		HiddenDropout:    0.1,
		AttentionDropout: 0.1,
	}
}

// ReadConfig reads a JSON configuration file.
//
// Fields missing from the file take their BERT-base
// values.
func ReadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("read encoder config", err)
	}
	res := BaseConfig()
	if err := json.Unmarshal(data, res); err != nil {
		return nil, essentials.AddCtx("read encoder config", err)
	}
	if err := res.Validate(); err != nil {
		return nil, essentials.AddCtx("read encoder config", err)
	}
	return res, nil
}

// Validate checks that the configuration describes a
// model this package can build.
func (c *Config) Validate() error {
	switch c.ModelType {
	case "bert", "roberta", "deberta-v2":
	default:
		return fmt.Errorf("unsupported model type %q (supported: bert, roberta, deberta-v2)",
			c.ModelType)
	}
	switch {
	case c.VocabSize <= 0 || c.HiddenSize <= 0 || c.NumLayers < 0 ||
		c.IntermediateSize <= 0 || c.MaxPositions <= 0:
		return fmt.Errorf("invalid dimensions: %+v", *c)
	case c.NumHeads <= 0 || c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("hidden size %d not divisible by %d heads",
			c.HiddenSize, c.NumHeads)
	case c.TypeVocabSize < 0:
		return fmt.Errorf("invalid token type count: %d", c.TypeVocabSize)
	case c.RelativeAttention && !c.IsDeBERTa():
		return fmt.Errorf("relative attention requires a deberta-v2 model")
	case c.ConvKernelSize > 0:
		return fmt.Errorf("unsupported convolution layer (kernel size %d)", c.ConvKernelSize)
	case c.EmbeddingSize != 0 && c.EmbeddingSize != c.HiddenSize:
		return fmt.Errorf("unsupported embedding size %d (hidden size %d)",
			c.EmbeddingSize, c.HiddenSize)
	}
	for _, x := range c.PosAttType {
		if x != "c2p" && x != "p2c" {
			return fmt.Errorf("unsupported relative attention type: %s", x)
		}
	}
	if _, err := c.activation(); err != nil {
		return err
	}
	return nil
}

// HeadSize returns the size of each attention head.
func (c *Config) HeadSize() int {
	return c.HiddenSize / c.NumHeads
}

// IsDeBERTa checks if the model is a DeBERTa-v2 (or v3)
// model.
func (c *Config) IsDeBERTa() bool {
	return c.ModelType == "deberta-v2"
}

// AbsolutePositions checks if the model has absolute
// position embeddings.
func (c *Config) AbsolutePositions() bool {
	return c.PositionBiasedInput == nil || *c.PositionBiasedInput
}

// RelativeSpan returns the number of relative positions
// on either side of a token which have their own
// embedding.
// It is 0 without relative attention.
func (c *Config) RelativeSpan() int {
	if !c.RelativeAttention {
		return 0
	}
	if c.PositionBuckets > 0 {
		return c.PositionBuckets
	}
	return c.maxRelativePositions()
}

// RelativePosition computes the (possibly bucketed)
// position of key k relative to query q.
func (c *Config) RelativePosition(q, k int) int {
	rel := q - k
	if c.PositionBuckets > 0 {
		return logBucket(rel, c.PositionBuckets, c.maxRelativePositions())
	}
	return rel
}

func (c *Config) maxRelativePositions() int {
	if c.MaxRelativePositions < 1 {
		return c.MaxPositions
	}
	return c.MaxRelativePositions
}

// logBucket keeps small relative positions exact and
// buckets larger ones logarithmically.
func logBucket(rel, bucketSize, maxPosition int) int {
	mid := bucketSize / 2
	abs := rel
	if abs < 0 {
		abs = -abs
	}
	if abs <= mid {
		return rel
	}
	scaled := math.Log(float64(abs)/float64(mid)) /
		math.Log(float64(maxPosition-1)/float64(mid)) * float64(mid-1)
	pos := int(math.Ceil(scaled)) + mid
	if rel < 0 {
		return -pos
	}
	return pos
}

// PositionIDs computes the position index of every token
// in a sequence.
//
// BERT models number tokens from zero.
// RoBERTa models start counting after the padding index
// and give padding tokens the padding index itself.
func (c *Config) PositionIDs(ids []int) []int {
	res := make([]int, len(ids))
	if c.ModelType != "roberta" {
		for i := range res {
			res[i] = i
		}
		return res
	}
	next := c.PadTokenID + 1
	for i, id := range ids {
		if id == c.PadTokenID {
			res[i] = c.PadTokenID
		} else {
			res[i] = next
			next++
		}
	}
	return res
}

func (c *Config) activation() (gednet.Activation, error) {
	switch c.HiddenAct {
	case "gelu", "gelu_new", "gelu_pytorch_tanh", "":
		return gednet.GELU, nil
	case "relu":
		return gednet.ReLU, nil
	case "tanh":
		return gednet.Tanh, nil
	default:
		return 0, fmt.Errorf("unsupported activation: %s", c.HiddenAct)
	}
}
