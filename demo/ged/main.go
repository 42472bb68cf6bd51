// Command ged fine-tunes a pretrained encoder with a
// convolutional head to detect ungrammatical sentences.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	arg "github.com/alexflint/go-arg"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gednet/classifier"
	"github.com/unixpickle/gednet/dataset"
	"github.com/unixpickle/gednet/encoder"
	"github.com/unixpickle/gednet/hub"
	"github.com/unixpickle/gednet/tokenize"
	"github.com/unixpickle/gednet/train"
)

const (
	configFile    = "config.json"
	weightsFile   = "pytorch_model.bin"
	tokenizerFile = "tokenizer.json"
)

type Args struct {
	Train  string `arg:"--train" default:"train_data.csv" help:"labeled training data (csv or xlsx)"`
	Val    string `arg:"--val" default:"val_data.csv" help:"labeled validation data; empty to split the training data"`
	Test   string `arg:"--test" default:"test_data.xlsx" help:"unlabeled test data (csv or xlsx)"`
	Output string `arg:"--output" default:"submission.csv" help:"where to write test predictions"`

	Config string `arg:"--config" help:"YAML file of hyperparameters"`

	ModelDir string `arg:"--model-dir" help:"directory with config.json, pytorch_model.bin and tokenizer.json"`
	Hub      string `arg:"--hub" help:"model hub repository to download the encoder from"`
	Revision string `arg:"--revision" default:"main" help:"model hub revision"`
	CacheDir string `arg:"--cache-dir" default:"hub_cache" help:"download cache for --hub"`

	TokenizerHub string `arg:"--tokenizer-hub" help:"model hub repository to download tokenizer.json from, if not the encoder's"`

	ValRatio float64 `arg:"--val-ratio" default:"0.1" help:"fraction of training data held out when --val is empty"`

	Epochs        int     `arg:"--epochs" help:"override the number of epochs"`
	BatchSize     int     `arg:"--batch" help:"override the batch size"`
	LearningRate  float64 `arg:"--lr" help:"override the learning rate"`
	Checkpoint    string  `arg:"--checkpoint" help:"override the checkpoint path"`
	FreezeEncoder bool    `arg:"--freeze-encoder" help:"train only the classification head"`
	LogitLoss     bool    `arg:"--logit-loss" help:"take the cross-entropy of the logits rather than of the probabilities"`
	Monitor       int     `arg:"--monitor" help:"log hidden state statistics every N batches"`
}

func main() {
	var args Args
	arg.MustParse(&args)

	cfg, err := loadConfig(&args)
	if err != nil {
		essentials.Die(err)
	}

	log.Println("Loading data...")
	trainEx, valEx, testEx, err := loadExamples(&args, cfg.NumClasses)
	if err != nil {
		essentials.Die(err)
	}

	ctx := context.Background()
	paths, err := modelPaths(ctx, &args)
	if err != nil {
		essentials.Die(err)
	}

	log.Println("Tokenizing...")
	tok, err := tokenize.Load(paths[tokenizerFile], cfg.MaxLen)
	if err != nil {
		essentials.Die(err)
	}
	trainSet, err := dataset.Encode(ctx, tok, trainEx, 0)
	if err != nil {
		essentials.Die(err)
	}
	var valSet dataset.Set
	if valEx == nil {
		trainSet, valSet = dataset.Split(trainSet, args.ValRatio)
	} else if valSet, err = dataset.Encode(ctx, tok, valEx, 0); err != nil {
		essentials.Die(err)
	}
	testSet, err := dataset.Encode(ctx, tok, testEx, 0)
	if err != nil {
		essentials.Die(err)
	}
	log.Printf("Using %d training, %d validation, and %d test examples.",
		len(trainSet), len(valSet), len(testSet))

	log.Println("Loading pretrained encoder...")
	c := anyvec32.CurrentCreator()
	enc, err := encoder.LoadPretrained(c, paths[configFile], paths[weightsFile])
	if err != nil {
		essentials.Die(err)
	}
	head := classifier.DefaultHead(enc.OutputDepth())
	head.NumClasses = cfg.NumClasses
	head.SeqLen = cfg.MaxLen
	model := classifier.New(c, enc, head)
	if args.Monitor > 0 {
		model.Monitor(args.Monitor)
	}

	trainer := train.NewTrainer(cfg, model, trainSet, valSet, testSet)

	log.Println("Press ctrl+c once to stop training...")
	trainCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	err = trainer.Train(trainCtx)
	stop()
	if err != nil {
		essentials.Die(err)
	}

	log.Println("Computing validation metrics...")
	metrics, err := trainer.Evaluate(ctx)
	if err != nil {
		essentials.Die(err)
	}
	log.Println(metrics)

	log.Println("Predicting test labels...")
	preds, err := trainer.Test(ctx)
	if err != nil {
		essentials.Die(err)
	}
	log.Printf("Predicted %d test labels.", len(preds))
	if err := dataset.WritePredictions(args.Output, dataset.Texts(testEx), preds); err != nil {
		essentials.Die(err)
	}
	log.Println("Wrote predictions to", args.Output)
}

func loadConfig(args *Args) (*train.Config, error) {
	cfg := train.DefaultConfig()
	if args.Config != "" {
		var err error
		cfg, err = train.LoadConfig(args.Config)
		if err != nil {
			return nil, err
		}
	}
	if args.Epochs != 0 {
		cfg.Epochs = args.Epochs
	}
	if args.BatchSize != 0 {
		cfg.BatchSize = args.BatchSize
	}
	if args.LearningRate != 0 {
		cfg.LearningRate = args.LearningRate
	}
	if args.Checkpoint != "" {
		cfg.Checkpoint = args.Checkpoint
	}
	if args.FreezeEncoder {
		cfg.FreezeEncoder = true
	}
	if args.LogitLoss {
		cfg.LogitLoss = true
	}
	return cfg, essentials.AddCtx("config", cfg.Validate())
}

func loadExamples(args *Args, numClasses int) (trainEx, valEx, testEx []*dataset.Example,
	err error) {
	trainEx, err = dataset.ReadFile(args.Train)
	if err == nil {
		err = dataset.CheckLabels(trainEx, numClasses, true)
	}
	if err != nil {
		return nil, nil, nil, essentials.AddCtx(args.Train, err)
	}
	if args.Val != "" {
		valEx, err = dataset.ReadFile(args.Val)
		if err == nil {
			err = dataset.CheckLabels(valEx, numClasses, true)
		}
		if err != nil {
			return nil, nil, nil, essentials.AddCtx(args.Val, err)
		}
	}
	testEx, err = dataset.ReadFile(args.Test)
	if err == nil {
		err = dataset.CheckLabels(testEx, numClasses, false)
	}
	if err != nil {
		return nil, nil, nil, essentials.AddCtx(args.Test, err)
	}
	return
}

// modelPaths finds the pretrained model files, either in
// a local directory or by downloading them from the hub.
func modelPaths(ctx context.Context, args *Args) (map[string]string, error) {
	files := []string{configFile, weightsFile, tokenizerFile}
	res := map[string]string{}
	switch {
	case args.ModelDir != "":
		for _, f := range files {
			res[f] = filepath.Join(args.ModelDir, f)
		}
	case args.Hub != "":
		client := &hub.Client{Revision: args.Revision, CacheDir: args.CacheDir}
		for _, f := range files {
			repo := args.Hub
			if f == tokenizerFile && args.TokenizerHub != "" {
				repo = args.TokenizerHub
			}
			log.Println("Fetching", f, "from", repo)
			path, err := client.Fetch(ctx, repo, f)
			if err != nil {
				return nil, err
			}
			res[f] = path
		}
	default:
		return nil, errors.New("one of --model-dir or --hub is required")
	}
	return res, nil
}
