package encoder

import (
	"fmt"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/gednet"
)

// statePrefixes are stripped from state dict keys.
var statePrefixes = []string{"bert.", "roberta.", "deberta.", "model."}

// A NamedParam associates a parameter with its name in a
// pretrained state dict.
type NamedParam struct {
	Name string
	Var  *anydiff.Var
}

// NamedParameters lists every parameter under its state
// dict name, in the order of Parameters.
func (e *Encoder) NamedParameters() []NamedParam {
	res := []NamedParam{{"embeddings.word_embeddings.weight", e.WordEmbeddings}}
	if e.PositionEmbeddings != nil {
		res = append(res, NamedParam{"embeddings.position_embeddings.weight",
			e.PositionEmbeddings})
	}
	if e.TokenTypeEmbeddings != nil {
		res = append(res, NamedParam{"embeddings.token_type_embeddings.weight",
			e.TokenTypeEmbeddings})
	}
	res = append(res,
		NamedParam{"embeddings.LayerNorm.weight", e.EmbeddingNorm.Scalers},
		NamedParam{"embeddings.LayerNorm.bias", e.EmbeddingNorm.Biases},
	)

	// DeBERTa names its projections query_proj and so on.
	projSuffix := ""
	if e.Config.IsDeBERTa() {
		projSuffix = "_proj"
	}

	for i, b := range e.Blocks {
		prefix := fmt.Sprintf("encoder.layer.%d.", i)
		add := func(name string, v *anydiff.Var) {
			res = append(res, NamedParam{Name: prefix + name, Var: v})
		}
		a := b.Attention
		addFC := func(name string, f *gednet.FC) {
			add(name+".weight", f.Weights)
			add(name+".bias", f.Biases)
		}
		addFC("attention.self.query"+projSuffix, a.Query)
		addFC("attention.self.key"+projSuffix, a.Key)
		addFC("attention.self.value"+projSuffix, a.Value)
		addFC("attention.output.dense", a.Output)
		if a.PosKey != nil {
			addFC("attention.self.pos_key_proj", a.PosKey)
		}
		if a.PosQuery != nil {
			addFC("attention.self.pos_query_proj", a.PosQuery)
		}
		add("attention.output.LayerNorm.weight", b.AttentionNorm.Scalers)
		add("attention.output.LayerNorm.bias", b.AttentionNorm.Biases)
		for j, param := range b.FeedForward.Parameters() {
			layer := "intermediate.dense."
			if j >= 2 {
				layer = "output.dense."
			}
			if j%2 == 0 {
				add(layer+"weight", param)
			} else {
				add(layer+"bias", param)
			}
		}
		add("output.LayerNorm.weight", b.OutputNorm.Scalers)
		add("output.LayerNorm.bias", b.OutputNorm.Biases)
	}
	if e.RelEmbeddings != nil {
		res = append(res, NamedParam{"encoder.rel_embeddings.weight", e.RelEmbeddings})
		if e.RelNorm != nil {
			res = append(res,
				NamedParam{"encoder.LayerNorm.weight", e.RelNorm.Scalers},
				NamedParam{"encoder.LayerNorm.bias", e.RelNorm.Biases},
			)
		}
	}
	return res
}

// LoadState copies pretrained tensors into the encoder.
//
// Keys may carry a model prefix such as "bert.", and
// layer norm parameters may use the older gamma/beta
// names.
// Every parameter must be present with the right number
// of elements.
// Keys the encoder does not use, such as those of a
// pretrained classification head, are ignored.
func (e *Encoder) LoadState(state map[string][]float32) error {
	normalized := map[string][]float32{}
	for key, value := range state {
		normalized[normalizeKey(key)] = value
	}
	for _, param := range e.NamedParameters() {
		value, ok := normalized[param.Name]
		if !ok {
			return fmt.Errorf("load state: missing tensor %s", param.Name)
		}
		if len(value) != param.Var.Vector.Len() {
			return fmt.Errorf("load state: tensor %s has %d elements (expected %d)",
				param.Name, len(value), param.Var.Vector.Len())
		}
		values := make([]float64, len(value))
		for i, x := range value {
			values[i] = float64(x)
		}
		c := param.Var.Vector.Creator()
		param.Var.Vector.SetData(c.MakeNumericList(values))
	}
	return nil
}

func normalizeKey(key string) string {
	for _, prefix := range statePrefixes {
		key = strings.TrimPrefix(key, prefix)
	}
	if strings.Contains(key, "LayerNorm.") {
		key = strings.Replace(key, "LayerNorm.gamma", "LayerNorm.weight", 1)
		key = strings.Replace(key, "LayerNorm.beta", "LayerNorm.bias", 1)
	}
	return key
}
