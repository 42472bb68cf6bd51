package encoder

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// LoadPretrained creates an Encoder from a config.json
// file and a PyTorch checkpoint (e.g. pytorch_model.bin).
func LoadPretrained(c anyvec.Creator, configPath, weightsPath string) (*Encoder, error) {
	cfg, err := ReadConfig(configPath)
	if err != nil {
		return nil, err
	}
	state, err := ReadStateDict(weightsPath)
	if err != nil {
		return nil, err
	}
	res := New(c, cfg)
	if err := res.LoadState(state); err != nil {
		return nil, essentials.AddCtx("load pretrained encoder", err)
	}
	return res, nil
}

// ReadStateDict reads the tensors of a PyTorch state dict.
//
// Each tensor is flattened in row-major order.
// Entries which are not floating-point tensors are
// skipped.
func ReadStateDict(path string) (map[string][]float32, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, essentials.AddCtx("read state dict", err)
	}
	dict, ok := obj.(*types.OrderedDict)
	if !ok {
		return nil, fmt.Errorf("read state dict: unexpected root object %T", obj)
	}
	res := map[string][]float32{}
	for key, entry := range dict.Map {
		name, ok := key.(string)
		if !ok {
			continue
		}
		tensor, ok := entry.Value.(*pytorch.Tensor)
		if !ok {
			continue
		}
		data, err := tensorData(tensor)
		if err != nil {
			return nil, essentials.AddCtx("read state dict: "+name, err)
		}
		if data != nil {
			res[name] = data
		}
	}
	return res, nil
}

// tensorData gathers a tensor's elements, honoring its
// offset and strides.
// It returns nil for non-float tensors.
func tensorData(t *pytorch.Tensor) ([]float32, error) {
	var storage []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		storage = s.Data
	case *pytorch.HalfStorage:
		storage = s.Data
	case *pytorch.DoubleStorage:
		storage = make([]float32, len(s.Data))
		for i, x := range s.Data {
			storage[i] = float32(x)
		}
	default:
		return nil, nil
	}
	if len(t.Stride) != len(t.Size) {
		return nil, fmt.Errorf("tensor has %d strides for %d dimensions",
			len(t.Stride), len(t.Size))
	}

	count := 1
	for _, x := range t.Size {
		count *= x
	}
	res := make([]float32, 0, count)
	index := make([]int, len(t.Size))
	for i := 0; i < count; i++ {
		offset := t.StorageOffset
		for dim, x := range index {
			offset += x * t.Stride[dim]
		}
		if offset < 0 || offset >= len(storage) {
			return nil, fmt.Errorf("tensor element out of storage bounds")
		}
		res = append(res, storage[offset])
		for dim := len(index) - 1; dim >= 0; dim-- {
			index[dim]++
			if index[dim] < t.Size[dim] {
				break
			}
			index[dim] = 0
		}
	}
	return res, nil
}
