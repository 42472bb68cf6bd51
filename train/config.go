package train

import (
	"errors"
	"io/ioutil"

	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v2"
)

// Config stores the hyperparameters for fine-tuning.
type Config struct {
	NumClasses int `yaml:"num_classes"`
	MaxLen     int `yaml:"max_len"`
	BatchSize  int `yaml:"batch_size"`
	Epochs     int `yaml:"epochs"`

	LearningRate float64 `yaml:"learning_rate"`
	Epsilon      float64 `yaml:"eps"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	WarmupProp   float64 `yaml:"warmup_prop"`
	MaxGradNorm  float64 `yaml:"max_grad_norm"`

	// Checkpoint is where the best model is saved.
	Checkpoint string `yaml:"checkpoint"`

	// FreezeEncoder trains only the classification head.
	FreezeEncoder bool `yaml:"freeze_encoder"`

	// LogitLoss uses the standard cross-entropy of the
	// logits instead of the cross-entropy of the class
	// probabilities.
	LogitLoss bool `yaml:"logit_loss"`

	// Seed seeds the shuffling of training batches.
	// If it is 0, the batches are shuffled differently on
	// every run.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the default hyperparameters.
func DefaultConfig() *Config {
	return &Config{
		NumClasses:   2,
		MaxLen:       128,
		BatchSize:    16,
		Epochs:       2,
		LearningRate: 2e-5,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
		Beta1:        0.9,
		Beta2:        0.999,
		WarmupProp:   0.1,
		MaxGradNorm:  1.0,
		Checkpoint:   "model.bin",
	}
}

// LoadConfig reads a YAML file on top of the default
// configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	res := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, res); err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	if err := res.Validate(); err != nil {
		return nil, essentials.AddCtx("load config", err)
	}
	return res, nil
}

// Validate checks the configuration for values that
// cannot work.
func (c *Config) Validate() error {
	switch {
	case c.NumClasses < 2:
		return errors.New("need at least two classes")
	case c.MaxLen < 2:
		return errors.New("max length must be at least 2")
	case c.BatchSize < 1:
		return errors.New("batch size must be positive")
	case c.Epochs < 0:
		return errors.New("epoch count must not be negative")
	case c.LearningRate <= 0:
		return errors.New("learning rate must be positive")
	case c.WarmupProp < 0 || c.WarmupProp > 1:
		return errors.New("warmup proportion must be in [0, 1]")
	case c.Beta1 <= 0 || c.Beta1 >= 1 || c.Beta2 <= 0 || c.Beta2 >= 1:
		return errors.New("betas must be in (0, 1)")
	case c.Checkpoint == "":
		return errors.New("missing checkpoint path")
	}
	return nil
}
