package gednet

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
}

// An Activation is a standard activation function.
type Activation int

// These are the supported activation functions.
//
// Softmax and LogSoftmax operate on each vector of the
// batch separately.
const (
	ReLU Activation = iota
	GELU
	Tanh
	Softmax
	LogSoftmax
)

// DeserializeActivation deserializes an Activation.
func DeserializeActivation(d []byte) (Activation, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Activation: data length (%d) should be 1", len(d))
	}
	a := Activation(d[0])
	if a > LogSoftmax {
		return 0, fmt.Errorf("deserialize Activation: unknown activation ID: %d", a)
	}
	return a, nil
}

// Apply applies the activation function.
func (a Activation) Apply(in anydiff.Res, n int) anydiff.Res {
	switch a {
	case ReLU:
		return anydiff.ClipPos(in)
	case GELU:
		return applyGELU(in)
	case Tanh:
		return anydiff.Tanh(in)
	case Softmax:
		return anydiff.Exp(anydiff.LogSoftmax(in, chunkSize(in, n)))
	case LogSoftmax:
		return anydiff.LogSoftmax(in, chunkSize(in, n))
	default:
		panic(fmt.Sprintf("unknown activation: %d", a))
	}
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/unixpickle/gednet.Activation"
}

// Serialize serializes the activation.
func (a Activation) Serialize() ([]byte, error) {
	return []byte{byte(a)}, nil
}

func chunkSize(in anydiff.Res, n int) int {
	inLen := in.Output().Len()
	if inLen%n != 0 {
		panic("batch size must divide input length")
	}
	return inLen / n
}

// applyGELU uses the tanh approximation
//
//     0.5*x*(1 + tanh(sqrt(2/pi)*(x + 0.044715*x^3)))
func applyGELU(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Pool(in, func(x anydiff.Res) anydiff.Res {
		cube := anydiff.Scale(anydiff.Mul(x, anydiff.Square(x)), c.MakeNumeric(0.044715))
		inner := anydiff.Scale(anydiff.Add(x, cube), c.MakeNumeric(math.Sqrt(2/math.Pi)))
		gate := anydiff.Scale(anydiff.AddScalar(anydiff.Tanh(inner), c.MakeNumeric(1)),
			c.MakeNumeric(0.5))
		return anydiff.Mul(x, gate)
	})
}
