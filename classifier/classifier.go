// Package classifier combines a transformer encoder with
// a convolutional head to classify sentences.
package classifier

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gednet"
	"github.com/unixpickle/gednet/dataset"
	"github.com/unixpickle/gednet/encoder"
	"github.com/unixpickle/gednet/seqconv"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// HeadConfig describes the classification head.
type HeadConfig struct {
	Dropout     float64
	Filters     int
	KernelSize  int
	Padding     int
	NumClasses  int
	SeqLen      int
	HiddenDepth int
}

// DefaultHead returns the head used for acceptability
// classification of 128-token sequences.
func DefaultHead(hidden int) *HeadConfig {
	return &HeadConfig{
		Dropout:     0.1,
		Filters:     256,
		KernelSize:  3,
		Padding:     1,
		NumClasses:  2,
		SeqLen:      128,
		HiddenDepth: hidden,
	}
}

// A Model maps batches of encoded sentences to class
// logits.
//
// The network applies the encoder, then dropout, a 1-D
// convolution over the sequence, ReLU, a global max-pool
// over time, and a linear layer.
type Model struct {
	NumClasses int
	Net        gednet.Net

	// LogitLoss makes Loss take the cross-entropy of the
	// logits directly.
	// It is not saved with the model.
	LogitLoss bool
}

// New creates a model around an encoder, with a freshly
// initialized head.
func New(c anyvec.Creator, enc *encoder.Encoder, h *HeadConfig) *Model {
	if h.HiddenDepth != enc.OutputDepth() {
		panic(fmt.Sprintf("head expects depth %d but encoder produces %d", h.HiddenDepth,
			enc.OutputDepth()))
	}
	conv := &seqconv.Conv{
		FilterCount: h.Filters,
		KernelSize:  h.KernelSize,
		Padding:     h.Padding,
		InputLength: h.SeqLen,
		InputDepth:  h.HiddenDepth,
		Parallel:    true,
	}
	conv.InitRand(c)
	return &Model{
		NumClasses: h.NumClasses,
		Net: gednet.Net{
			enc,
			&gednet.Dropout{DropProb: h.Dropout},
			conv,
			gednet.ReLU,
			&seqconv.MaxPool{InputLength: conv.OutputLength(), InputDepth: h.Filters},
			gednet.NewFC(c, h.Filters, h.NumClasses),
		},
	}
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	var numClasses serializer.Int
	var net gednet.Net
	if err := serializer.DeserializeAny(d, &numClasses, &net); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if len(net) == 0 {
		return nil, errors.New("deserialize Model: empty network")
	}
	return &Model{NumClasses: int(numClasses), Net: net}, nil
}

// Load reads a model checkpoint.
func Load(path string) (*Model, error) {
	var m *Model
	if err := serializer.LoadAny(path, &m); err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return m, nil
}

// Save writes a model checkpoint, replacing any existing
// file.
func (m *Model) Save(path string) error {
	if err := serializer.SaveAny(path, m); err != nil {
		return essentials.AddCtx("save model", err)
	}
	return nil
}

// Creator returns the creator of the model's parameters.
func (m *Model) Creator() anyvec.Creator {
	return m.Encoder().WordEmbeddings.Vector.Creator()
}

// Encoder returns the model's encoder.
func (m *Model) Encoder() *encoder.Encoder {
	switch layer := m.Net[0].(type) {
	case *encoder.Encoder:
		return layer
	case *gednet.Frozen:
		return layer.Layer.(*encoder.Encoder)
	default:
		panic(fmt.Sprintf("unexpected first layer: %T", layer))
	}
}

// FreezeEncoder excludes the encoder's parameters from
// Parameters, so that only the head is trained.
func (m *Model) FreezeEncoder() {
	if _, ok := m.Net[0].(*gednet.Frozen); !ok {
		m.Net[0] = &gednet.Frozen{Layer: m.Net[0]}
	}
}

// Monitor inserts a layer after the encoder that logs
// statistics of the hidden states every few batches.
func (m *Model) Monitor(every int) {
	if mon, ok := m.Net[1].(*gednet.Monitor); ok {
		mon.Every = every
		return
	}
	mon := &gednet.Monitor{ID: "hidden", Every: every}
	m.Net = append(gednet.Net{m.Net[0], mon}, m.Net[1:]...)
}

// Logits computes the unnormalized class scores for a
// batch.
func (m *Model) Logits(b *dataset.Batch) anydiff.Res {
	return m.Net.Apply(b.Input(m.Creator()), b.Num)
}

// Apply computes class probabilities for a batch.
func (m *Model) Apply(b *dataset.Batch) anydiff.Res {
	return gednet.Softmax.Apply(m.Logits(b), b.Num)
}

// Loss computes the mean training loss of the logits for
// a batch.
//
// By default, the cross-entropy is taken of the class
// probabilities rather than of the logits, i.e. a second
// softmax is applied.
// This matches how the pretrained checkpoints and their
// reference scores were fine-tuned.
// Set LogitLoss for the standard cross-entropy.
func (m *Model) Loss(logits anydiff.Res, b *dataset.Batch) anydiff.Res {
	targets := gednet.OneHot(logits.Output().Creator(), b.Labels, m.NumClasses)
	actual := logits
	if !m.LogitLoss {
		actual = gednet.Softmax.Apply(logits, b.Num)
	}
	costs := gednet.CrossEntropy{}.Cost(anydiff.NewConst(targets), actual, b.Num)
	return gednet.MeanCost(costs)
}

// Predict returns the most likely class of every example
// in a batch.
func (m *Model) Predict(b *dataset.Batch) []int {
	return Argmax(m.Logits(b).Output(), m.NumClasses)
}

// Parameters returns the trainable parameters.
func (m *Model) Parameters() []*anydiff.Var {
	return m.Net.Parameters()
}

// SetTraining switches between training mode (with
// dropout) and evaluation mode.
func (m *Model) SetTraining(t bool) {
	m.Net.SetTraining(t)
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/gednet/classifier.Model"
}

// Serialize serializes the model.
func (m *Model) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Int(m.NumClasses), m.Net)
}

// Argmax finds the index of the largest entry in each row
// of a packed matrix.
// Ties go to the lowest index.
func Argmax(rows anyvec.Vector, cols int) []int {
	data := gednet.Floats(rows)
	res := make([]int, len(data)/cols)
	for i := range res {
		row := data[i*cols : (i+1)*cols]
		for j, x := range row {
			if x > row[res[i]] {
				res[i] = j
			}
		}
	}
	return res
}
