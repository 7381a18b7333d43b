package models

import (
	"math"
	"time"

	"testing"
)

func TestToVectorMissingFeatureIsNaN(t *testing.T) {
	fv, err := NewFeatureVector("AAPL", time.Now(), TF1Min, map[string]float64{"ret": 0.01}, false)
	if err != nil {
		t.Fatalf("NewFeatureVector: %v", err)
	}

	x := fv.ToVector([]string{"ret", "vol"})
	if x[0] != 0.01 {
		t.Fatalf("x[0] = %v", x[0])
	}
	if !math.IsNaN(x[1]) {
		t.Fatalf("x[1] = %v, want NaN for missing feature", x[1])
	}
}

func TestNewFeatureVectorRejectsBadTimeframe(t *testing.T) {
	if _, err := NewFeatureVector("AAPL", time.Now(), Timeframe("2Min"), nil, false); err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestUnknownOutputShape(t *testing.T) {
	out, err := UnknownOutput("AAPL", time.Now(), TF5Min, "m1", 4, math.Inf(-1), nil)
	if err != nil {
		t.Fatalf("UnknownOutput: %v", err)
	}
	if out.StateID != StateUnknown || !out.IsOOD {
		t.Fatalf("state=%d ood=%v", out.StateID, out.IsOOD)
	}
	if out.NStates() != 4 {
		t.Fatalf("NStates = %d", out.NStates())
	}
	for i, p := range out.Posterior {
		if math.Abs(p-0.25) > 1e-12 {
			t.Fatalf("posterior[%d] = %v, want 0.25", i, p)
		}
	}
}

func TestNewHMMOutputCopiesPosterior(t *testing.T) {
	post := []float64{0.7, 0.3}
	out, err := NewHMMOutput("AAPL", time.Now(), TF1Min, "m1", 0, 0.7, post, -3.2, false, nil)
	if err != nil {
		t.Fatalf("NewHMMOutput: %v", err)
	}
	post[0] = 99
	if out.Posterior[0] != 0.7 {
		t.Fatalf("posterior aliased caller slice: %v", out.Posterior)
	}
}

func TestEntropyMaximalAtUniform(t *testing.T) {
	uniform, _ := NewHMMOutput("AAPL", time.Now(), TF1Min, "m1", 0, 0.25, []float64{0.25, 0.25, 0.25, 0.25}, -1, false, nil)
	peaked, _ := NewHMMOutput("AAPL", time.Now(), TF1Min, "m1", 0, 0.97, []float64{0.97, 0.01, 0.01, 0.01}, -1, false, nil)

	hu, hp := uniform.Entropy(), peaked.Entropy()
	if math.Abs(hu-math.Log(4)) > 1e-9 {
		t.Fatalf("uniform entropy = %v, want ln(4)", hu)
	}
	if !(hp < hu) {
		t.Fatalf("peaked entropy %v not below uniform %v", hp, hu)
	}
}

func TestEntropyFiniteOnDegeneratePosterior(t *testing.T) {
	out, _ := NewHMMOutput("AAPL", time.Now(), TF1Min, "m1", 0, 1, []float64{1, 0}, -1, false, nil)
	if h := out.Entropy(); math.IsInf(h, 0) || math.IsNaN(h) {
		t.Fatalf("entropy = %v, want finite", h)
	}
}

func TestMetadataDefaultsAndTTL(t *testing.T) {
	m := &ModelMetadata{
		ModelID:   "state_v001",
		Timeframe: TF1Hour,
		NStates:   3,
		LatentDim: 2,
	}
	m.ApplyDefaults()

	if m.ScalerType != "robust" || m.EncoderType != "pca" || m.CovarianceType != "diag" {
		t.Fatalf("defaults = %s/%s/%s", m.ScalerType, m.EncoderType, m.CovarianceType)
	}
	if m.OODThreshold != -50.0 {
		t.Fatalf("ood_threshold default = %v", m.OODThreshold)
	}
	if got := m.StateTTL(); got != time.Hour {
		t.Fatalf("StateTTL = %v, want 1h", got)
	}

	m.StateTTLBars = 3
	if got := m.StateTTL(); got != 3*time.Hour {
		t.Fatalf("StateTTL = %v, want 3h", got)
	}
}

func TestBarDurations(t *testing.T) {
	cases := map[Timeframe]time.Duration{
		TF1Min:  time.Minute,
		TF5Min:  5 * time.Minute,
		TF15Min: 15 * time.Minute,
		TF1Hour: time.Hour,
		TF1Day:  24 * time.Hour,
	}
	for tf, want := range cases {
		if got := tf.BarDuration(); got != want {
			t.Errorf("%s: BarDuration = %v, want %v", tf, got, want)
		}
	}
	if got := Timeframe("weird").BarDuration(); got != time.Minute {
		t.Errorf("unknown timeframe BarDuration = %v, want 1m fallback", got)
	}
}
