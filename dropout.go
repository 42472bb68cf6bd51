package gednet

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// A Dropout layer applies inverted dropout.
//
// While training, each input is zeroed with probability
// DropProb and the survivors are scaled by 1/(1-DropProb).
// Otherwise, the layer is the identity.
type Dropout struct {
	Training bool
	DropProb float64
}

// DeserializeDropout deserializes a Dropout.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var training serializer.Int
	var dropProb serializer.Float64
	if err := serializer.DeserializeAny(d, &training, &dropProb); err != nil {
		return nil, essentials.AddCtx("deserialize Dropout", err)
	}
	return &Dropout{
		Training: training == 1,
		DropProb: float64(dropProb),
	}, nil
}

// Apply applies the layer.
func (d *Dropout) Apply(in anydiff.Res, n int) anydiff.Res {
	if !d.Training || d.DropProb == 0 {
		return in
	}
	c := in.Output().Creator()
	keepProb := 1 - d.DropProb
	mask := c.MakeVector(in.Output().Len())
	anyvec.Rand(mask, anyvec.Uniform, nil)
	anyvec.LessThan(mask, c.MakeNumeric(keepProb))
	mask.Scale(c.MakeNumeric(1 / keepProb))
	return anydiff.Mul(in, anydiff.NewConst(mask))
}

// SetTraining enables or disables dropout.
func (d *Dropout) SetTraining(training bool) {
	d.Training = training
}

// SerializerType returns the unique ID used to serialize
// a Dropout with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/unixpickle/gednet.Dropout"
}

// Serialize serializes the Dropout.
func (d *Dropout) Serialize() ([]byte, error) {
	trainingFlag := serializer.Int(0)
	if d.Training {
		trainingFlag = 1
	}
	return serializer.SerializeAny(trainingFlag, serializer.Float64(d.DropProb))
}
