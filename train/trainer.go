// Package train fine-tunes classifiers and uses them to
// label unseen data.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gednet"
	"github.com/unixpickle/gednet/classifier"
	"github.com/unixpickle/gednet/dataset"
	"github.com/unixpickle/gednet/metrics"
	"github.com/unixpickle/gednet/optim"
)

// A Trainer fine-tunes a Model, keeping the checkpoint
// with the lowest validation loss.
type Trainer struct {
	Config *Config
	Model  *classifier.Model

	TrainSet dataset.Set
	ValSet   dataset.Set
	TestSet  dataset.Set

	Optimizer *optim.Optimizer
	Clip      *optim.ClipNorm

	// Out receives validation reports.
	// If nil, os.Stdout is used.
	Out io.Writer

	// Quiet disables progress bars.
	Quiet bool

	rand     *rand.Rand
	bestLoss float64
}

// NewTrainer creates a Trainer with an AdamW optimizer
// and a linear warmup schedule spanning every epoch.
func NewTrainer(cfg *Config, model *classifier.Model, train, val, test dataset.Set) *Trainer {
	if cfg.FreezeEncoder {
		model.FreezeEncoder()
	}
	model.LogitLoss = cfg.LogitLoss
	totalSteps := dataset.NumBatches(train.Len(), cfg.BatchSize) * cfg.Epochs
	clip := &optim.ClipNorm{Max: cfg.MaxGradNorm}
	var transformer optim.Chain
	if cfg.MaxGradNorm > 0 {
		transformer = append(transformer, clip)
	}
	transformer = append(transformer, &optim.AdamW{
		DecayRate1:  cfg.Beta1,
		DecayRate2:  cfg.Beta2,
		Damping:     cfg.Epsilon,
		WeightDecay: cfg.WeightDecay,
	})
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Trainer{
		Config:   cfg,
		Model:    model,
		TrainSet: train,
		ValSet:   val,
		TestSet:  test,
		Optimizer: &optim.Optimizer{
			Transformer: transformer,
			Rater:       optim.NewLinearWarmup(cfg.LearningRate, totalSteps, cfg.WarmupProp),
		},
		Clip:     clip,
		rand:     rand.New(rand.NewSource(seed)),
		bestLoss: math.Inf(1),
	}
}

// TrainEpoch runs one pass over the shuffled training
// data, taking an optimizer step for every batch.
//
// If the context is cancelled, the epoch ends after the
// current batch and the context's error is returned.
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int) (*metrics.Metrics, error) {
	if t.TrainSet.Len() == 0 {
		return nil, errors.New("train epoch: empty training set")
	}
	t.Model.SetTraining(true)
	defer t.Model.SetTraining(false)

	batches := dataset.Batches(t.TrainSet, t.Config.BatchSize, true, t.rand)
	bar := t.progress(len(batches), "Training")
	defer bar.Finish()

	var totalLoss float64
	var labels, preds []int
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := t.Model.Parameters()
		grad := anydiff.NewGrad(params...)
		logits := t.Model.Logits(batch)
		loss := t.Model.Loss(logits, batch)
		c := loss.Output().Creator()
		loss.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
		t.Optimizer.Step(grad)

		totalLoss += lossValue(loss)
		labels = append(labels, batch.Labels...)
		preds = append(preds, classifier.Argmax(logits.Output(), t.Model.NumClasses)...)

		bar.Describe(fmt.Sprintf("Epoch %d - Train loss: %.3f", epoch+1,
			totalLoss/float64(i+1)))
		bar.Add(1)
	}

	res := metrics.Compute(totalLoss/float64(len(batches)), labels, preds,
		t.Model.NumClasses)
	log.Printf("Epoch %d - %s", epoch+1, res.Summary("Training"))
	return res, nil
}

// Evaluate computes metrics on the validation set.
func (t *Trainer) Evaluate(ctx context.Context) (*metrics.Metrics, error) {
	if t.ValSet.Len() == 0 {
		return nil, errors.New("evaluate: empty validation set")
	}
	t.Model.SetTraining(false)
	batches := dataset.Batches(t.ValSet, t.Config.BatchSize, false, nil)
	bar := t.progress(len(batches), "Validation")
	defer bar.Finish()

	var totalLoss float64
	var labels, preds []int
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits := t.Model.Logits(batch)
		totalLoss += lossValue(t.Model.Loss(logits, batch))
		labels = append(labels, batch.Labels...)
		preds = append(preds, classifier.Argmax(logits.Output(), t.Model.NumClasses)...)
		bar.Add(1)
	}
	return metrics.Compute(totalLoss/float64(len(batches)), labels, preds,
		t.Model.NumClasses), nil
}

// Train runs every epoch, evaluating after each one and
// saving the model whenever the validation loss improves.
//
// If the context is cancelled, training stops early and
// the best checkpoint so far is kept.
func (t *Trainer) Train(ctx context.Context) error {
	for epoch := 0; epoch < t.Config.Epochs; epoch++ {
		if _, err := t.TrainEpoch(ctx, epoch); err != nil {
			if ctx.Err() != nil {
				log.Printf("Training interrupted during epoch %d", epoch+1)
				return nil
			}
			return err
		}
		m, err := t.Evaluate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("Training interrupted during epoch %d", epoch+1)
				return nil
			}
			return err
		}
		if m.Loss < t.bestLoss {
			t.bestLoss = m.Loss
			if err := t.Model.Save(t.Config.Checkpoint); err != nil {
				return err
			}
			log.Printf("Saved model at epoch %d", epoch+1)
		}
		fmt.Fprintf(t.out(), "Epoch %d:\n%s", epoch+1, m)
	}
	return nil
}

// Test loads the best checkpoint and predicts a label
// for every test example, in order.
//
// The loaded checkpoint replaces t.Model.
func (t *Trainer) Test(ctx context.Context) ([]int, error) {
	if _, err := os.Stat(t.Config.Checkpoint); err != nil {
		return nil, essentials.AddCtx("test: no checkpoint", err)
	}
	model, err := classifier.Load(t.Config.Checkpoint)
	if err != nil {
		return nil, essentials.AddCtx("test", err)
	}
	model.LogitLoss = t.Config.LogitLoss
	t.Model = model
	t.Model.SetTraining(false)

	batches := dataset.Batches(t.TestSet, t.Config.BatchSize, false, nil)
	bar := t.progress(len(batches), "Testing")
	defer bar.Finish()

	res := make([]int, 0, t.TestSet.Len())
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = append(res, t.Model.Predict(batch)...)
		bar.Add(1)
	}
	return res, nil
}

func (t *Trainer) progress(n int, desc string) *progressbar.ProgressBar {
	if t.Quiet {
		return progressbar.DefaultSilent(int64(n), desc)
	}
	return progressbar.Default(int64(n), desc)
}

func (t *Trainer) out() io.Writer {
	if t.Out == nil {
		return os.Stdout
	}
	return t.Out
}

func lossValue(r anydiff.Res) float64 {
	return gednet.Floats(r.Output())[0]
}
