package gednet

import (
	"log"
	"math"
	"sync/atomic"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Monitor
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMonitor)
}

// A Monitor layer logs statistics about the values that
// flow through it.
// Besides logging, it does nothing to the values.
type Monitor struct {
	ID string

	// Every is the number of Apply calls between logs.
	// If it is 0 or 1, every call is logged.
	Every int

	// Logger receives the statistics.
	// If nil, the standard logger is used.
	Logger *log.Logger

	calls int64
}

// DeserializeMonitor deserializes a Monitor.
// The Logger will be nil.
func DeserializeMonitor(d []byte) (*Monitor, error) {
	var id string
	var every serializer.Int
	if err := serializer.DeserializeAny(d, &id, &every); err != nil {
		return nil, essentials.AddCtx("deserialize Monitor", err)
	}
	return &Monitor{ID: id, Every: int(every)}, nil
}

// Apply logs the statistics of its input, which is
// returned untouched.
func (m *Monitor) Apply(in anydiff.Res, n int) anydiff.Res {
	call := atomic.AddInt64(&m.calls, 1) - 1
	if m.Every > 1 && call%int64(m.Every) != 0 {
		return in
	}
	s := ComputeStats(Floats(in.Output()))
	m.printf("monitor %s: batch=%d mean=%.4f std=%.4f min=%.4f max=%.4f zeros=%.1f%%",
		m.ID, n, s.Mean, s.Std, s.Min, s.Max, 100*s.ZeroFrac)
	return in
}

// SerializerType returns the unique ID used to serialize
// a Monitor with the serializer package.
func (m *Monitor) SerializerType() string {
	return "github.com/unixpickle/gednet.Monitor"
}

// Serialize serializes the layer.
func (m *Monitor) Serialize() ([]byte, error) {
	return serializer.SerializeAny(m.ID, serializer.Int(m.Every))
}

func (m *Monitor) printf(format string, args ...interface{}) {
	if m.Logger == nil {
		log.Printf(format, args...)
	} else {
		m.Logger.Printf(format, args...)
	}
}

// Stats summarizes a list of values.
type Stats struct {
	Mean     float64
	Std      float64
	Min      float64
	Max      float64
	ZeroFrac float64
}

// ComputeStats computes the Stats of a list of values.
// The Stats of an empty list are all zero.
func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	res := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum, sqSum float64
	var zeros int
	for _, x := range values {
		sum += x
		sqSum += x * x
		res.Min = math.Min(res.Min, x)
		res.Max = math.Max(res.Max, x)
		if x == 0 {
			zeros++
		}
	}
	n := float64(len(values))
	res.Mean = sum / n
	res.Std = math.Sqrt(math.Max(0, sqSum/n-res.Mean*res.Mean))
	res.ZeroFrac = float64(zeros) / n
	return res
}
