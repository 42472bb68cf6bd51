package encoder

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"model_type": "bert", "hidden_size": 128, "num_hidden_layers": 2,
		"num_attention_heads": 2, "intermediate_size": 512, "architectures": ["X"]}`
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.HiddenSize)
	assert.Equal(t, 2, cfg.NumLayers)
	assert.Equal(t, 64, cfg.HeadSize())
	assert.Equal(t, 30522, cfg.VocabSize)
	assert.Equal(t, 1e-12, cfg.LayerNormEps)
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	badHeads := filepath.Join(dir, "heads.json")
	require.NoError(t, ioutil.WriteFile(badHeads,
		[]byte(`{"hidden_size": 100, "num_attention_heads": 3}`), 0644))
	_, err := ReadConfig(badHeads)
	assert.Error(t, err)

	badAct := filepath.Join(dir, "act.json")
	require.NoError(t, ioutil.WriteFile(badAct, []byte(`{"hidden_act": "swish"}`), 0644))
	_, err = ReadConfig(badAct)
	assert.Error(t, err)

	_, err = ReadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPositionIDs(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, []int{0, 1, 2, 3}, cfg.PositionIDs([]int{5, 6, 0, 0}))

	cfg.ModelType = "roberta"
	cfg.PadTokenID = 1
	assert.Equal(t, []int{2, 3, 4, 1, 1}, cfg.PositionIDs([]int{0, 7, 2, 1, 1}))
}

func TestReadConfigDeBERTa(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"model_type": "deberta-v2", "hidden_size": 768, "num_hidden_layers": 12,
		"num_attention_heads": 12, "intermediate_size": 3072, "vocab_size": 128100,
		"max_position_embeddings": 512, "type_vocab_size": 0,
		"position_biased_input": false, "relative_attention": true,
		"max_relative_positions": -1, "position_buckets": 256,
		"pos_att_type": ["p2c", "c2p"], "share_att_key": true,
		"norm_rel_ebd": "layer_norm", "layer_norm_eps": 1e-7}`
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsDeBERTa())
	assert.False(t, cfg.AbsolutePositions())
	assert.Equal(t, 256, cfg.RelativeSpan())
	assert.Equal(t, 0, cfg.TypeVocabSize)
	assert.Equal(t, 3, cfg.RelativePosition(3, 0))
	assert.Equal(t, -128, cfg.RelativePosition(0, 128))
}

func TestValidateUnsupported(t *testing.T) {
	for name, modify := range map[string]func(c *Config){
		"model type":    func(c *Config) { c.ModelType = "electra" },
		"relative bert": func(c *Config) { c.RelativeAttention = true },
		"conv": func(c *Config) {
			c.ModelType = "deberta-v2"
			c.ConvKernelSize = 3
		},
		"embedding size": func(c *Config) {
			c.ModelType = "deberta-v2"
			c.EmbeddingSize = 8
		},
		"attention type": func(c *Config) {
			c.ModelType = "deberta-v2"
			c.PosAttType = AttnTypes{"p2p"}
		},
	} {
		cfg := testConfig()
		modify(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
	assert.NoError(t, testConfig().Validate())
	assert.NoError(t, debertaConfig(false).Validate())
}
