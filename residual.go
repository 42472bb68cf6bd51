package gednet

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var r Residual
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeResidual)
}

// A Residual layer adds its input to the output of a
// wrapped layer, then optionally applies a second layer
// to the sum.
//
// With Out set to a LayerNorm, this is the "post-norm"
// sub-layer connection of a transformer encoder.
type Residual struct {
	Layer Layer

	// Out may be nil.
	Out Layer
}

// DeserializeResidual deserializes a Residual.
func DeserializeResidual(d []byte) (*Residual, error) {
	var res Residual
	if err := serializer.DeserializeAny(d, &res.Layer, &res.Out); err != nil {
		return nil, essentials.AddCtx("deserialize Residual", err)
	}
	if net, ok := res.Out.(Net); ok && len(net) == 0 {
		res.Out = nil
	}
	return &res, nil
}

// Apply computes Out(Layer(in) + in).
func (r *Residual) Apply(in anydiff.Res, n int) anydiff.Res {
	sum := anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		return anydiff.Add(r.Layer.Apply(in, n), in)
	})
	if r.Out == nil {
		return sum
	}
	return r.Out.Apply(sum, n)
}

// SetTraining forwards the mode to the wrapped layers.
func (r *Residual) SetTraining(training bool) {
	for _, l := range []Layer{r.Layer, r.Out} {
		if t, ok := l.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}

// Parameters gets the parameters of the wrapped layers
// that implement Parameterizer.
func (r *Residual) Parameters() []*anydiff.Var {
	return AllParameters(r.Layer, r.Out)
}

// SerializerType returns the unique ID used to serialize
// a Residual with the serializer package.
func (r *Residual) SerializerType() string {
	return "github.com/unixpickle/gednet.Residual"
}

// Serialize attempts to serialize the Residual.
// A nil Out is stored as an empty Net.
func (r *Residual) Serialize() ([]byte, error) {
	out := r.Out
	if out == nil {
		out = Net{}
	}
	return serializer.SerializeAny(r.Layer, out)
}
