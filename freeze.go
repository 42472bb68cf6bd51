package gednet

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f Frozen
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFrozen)
}

// Frozen wraps a Layer and does not implement
// Parameterizer, thus effectively freezing the parameters
// of the layer.
//
// Training-mode switches are still forwarded, so a frozen
// layer with dropout behaves like its unfrozen version.
type Frozen struct {
	Layer Layer
}

// DeserializeFrozen deserializes a Frozen.
func DeserializeFrozen(d []byte) (*Frozen, error) {
	var f Frozen
	if err := serializer.DeserializeAny(d, &f.Layer); err != nil {
		return nil, essentials.AddCtx("deserialize Frozen", err)
	}
	return &f, nil
}

// Apply applies the wrapped layer.
func (f *Frozen) Apply(in anydiff.Res, n int) anydiff.Res {
	return f.Layer.Apply(in, n)
}

// SetTraining forwards the mode to the wrapped layer.
func (f *Frozen) SetTraining(training bool) {
	if t, ok := f.Layer.(Trainable); ok {
		t.SetTraining(training)
	}
}

// SerializerType returns the unique ID used to serialize
// a Frozen with the serializer package.
func (f *Frozen) SerializerType() string {
	return "github.com/unixpickle/gednet.Frozen"
}

// Serialize serializes the Frozen.
func (f *Frozen) Serialize() ([]byte, error) {
	return serializer.SerializeAny(f.Layer)
}
