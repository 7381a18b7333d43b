package hmm

import (
	"math"

	"testing"
)

func TestScalerTransform(t *testing.T) {
	s, err := NewScaler([]float64{10, 100}, []float64{2, 50})
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}

	got := s.Transform([]float64{14, 0})
	want := []float64{2, -2}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("Transform[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScalerRejectsZeroScale(t *testing.T) {
	if _, err := NewScaler([]float64{0, 0}, []float64{1, 0}); err == nil {
		t.Fatal("expected error for zero scale")
	}
}

func TestPCAEncoderProjects(t *testing.T) {
	// Two components picking out each axis after mean removal.
	enc, err := NewPCAEncoder([]float64{1, 1, 1}, [][]float64{
		{1, 0, 0},
		{0, 0, 1},
	})
	if err != nil {
		t.Fatalf("NewPCAEncoder: %v", err)
	}

	got := enc.Transform([]float64{3, 7, 2})
	want := []float64{2, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("Transform[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if enc.OutputDim() != 2 || enc.InputDim() != 3 {
		t.Fatalf("dims = (%d, %d)", enc.InputDim(), enc.OutputDim())
	}
}

func TestPipelineComposes(t *testing.T) {
	s, err := NewScaler([]float64{1, 1}, []float64{2, 2})
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	enc, err := NewPCAEncoder([]float64{0, 0}, [][]float64{{1, 1}})
	if err != nil {
		t.Fatalf("NewPCAEncoder: %v", err)
	}
	p, err := NewPipeline(s, enc)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	// (x - 1)/2 elementwise, then summed by the single component.
	got := p.Transform([]float64{3, 5})
	if math.Abs(got[0]-3.0) > 1e-12 {
		t.Fatalf("Transform = %v, want [3]", got)
	}
	if p.InputDim() != 2 || p.OutputDim() != 1 {
		t.Fatalf("dims = (%d, %d)", p.InputDim(), p.OutputDim())
	}
}

func TestPipelineRejectsDimMismatch(t *testing.T) {
	s, _ := NewScaler([]float64{0, 0}, []float64{1, 1})
	enc, _ := NewPCAEncoder([]float64{0, 0, 0}, [][]float64{{1, 0, 0}})
	if _, err := NewPipeline(s, enc); err == nil {
		t.Fatal("expected error for scaler/encoder dim mismatch")
	}
}

func TestPipelinePropagatesNaN(t *testing.T) {
	s, _ := NewScaler([]float64{0, 0}, []float64{1, 1})
	enc, _ := NewPCAEncoder([]float64{0, 0}, [][]float64{{1, 1}})
	p, _ := NewPipeline(s, enc)

	got := p.Transform([]float64{math.NaN(), 1})
	if !math.IsNaN(got[0]) {
		t.Fatalf("Transform = %v, want NaN passthrough", got)
	}
}
