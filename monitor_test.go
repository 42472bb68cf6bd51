package gednet

import (
	"bytes"
	"log"
	"math"
	"strings"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func TestComputeStats(t *testing.T) {
	s := ComputeStats([]float64{0, 2, 4, 0, -1})
	if math.Abs(s.Mean-1) > 1e-8 {
		t.Errorf("bad mean: %f", s.Mean)
	}
	if math.Abs(s.Std-math.Sqrt(21.0/5-1)) > 1e-8 {
		t.Errorf("bad std: %f", s.Std)
	}
	if s.Min != -1 || s.Max != 4 {
		t.Errorf("bad range: %f to %f", s.Min, s.Max)
	}
	if math.Abs(s.ZeroFrac-0.4) > 1e-8 {
		t.Errorf("bad zero fraction: %f", s.ZeroFrac)
	}
	if (ComputeStats(nil) != Stats{}) {
		t.Error("empty stats should be zero")
	}
}

func TestMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := &Monitor{ID: "hidden", Every: 2, Logger: log.New(&buf, "", 0)}
	in := anydiff.NewConst(anyvec64.MakeVectorData([]float64{1, 2, 3, 4}))
	for i := 0; i < 3; i++ {
		if m.Apply(in, 2) != in {
			t.Fatal("monitor should return its input")
		}
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines but got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "monitor hidden: batch=2 mean=2.5000") {
		t.Errorf("unexpected log line: %s", lines[0])
	}

	data, err := serializer.SerializeAny(m)
	if err != nil {
		t.Fatal(err)
	}
	var m1 *Monitor
	if err := serializer.DeserializeAny(data, &m1); err != nil {
		t.Fatal(err)
	}
	if m1.ID != m.ID || m1.Every != m.Every {
		t.Errorf("expected %v but got %v", m, m1)
	}
}
