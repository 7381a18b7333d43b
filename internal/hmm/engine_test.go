package hmm

import (
	"math"
	"time"

	"testing"

	"RegimePulse/internal/domain/models"
)

// passthrough copies its input, letting tests feed posteriors and
// log-likelihoods straight through the transform stage.
type passthrough struct{ dim int }

func (p passthrough) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	return out
}
func (p passthrough) InputDim() int  { return p.dim }
func (p passthrough) OutputDim() int { return p.dim }

// scriptedModel decodes z as [posterior..., loglik] so every bar's raw
// state, probability and likelihood are chosen by the test.
type scriptedModel struct{ nStates int }

func (m scriptedModel) NStates() int { return m.nStates }
func (m scriptedModel) PredictProba(z []float64) []float64 {
	return z[:m.nStates]
}
func (m scriptedModel) EmissionLogLikelihood(z []float64) float64 {
	return z[m.nStates]
}

func scriptedMeta(nStates int) *models.ModelMetadata {
	names := make([]string, 0, nStates+1)
	for i := 0; i < nStates; i++ {
		names = append(names, string(rune('a'+i)))
	}
	names = append(names, "ll")
	return &models.ModelMetadata{
		ModelID:      "test_v001",
		Timeframe:    models.TF1Min,
		NStates:      nStates,
		LatentDim:    nStates + 1,
		FeatureNames: names,
		StateTTLBars: 1,
		OODThreshold: -50.0,
	}
}

func scriptedEngine(t *testing.T, nStates int, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(passthrough{dim: nStates + 1}, scriptedModel{nStates: nStates}, scriptedMeta(nStates), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// bar2 builds a 2-state feature map with the given posterior mass on state 1.
func bar2(p1, loglik float64) map[string]float64 {
	return map[string]float64{"a": 1 - p1, "b": p1, "ll": loglik}
}

func processAll(t *testing.T, e *Engine, bars []map[string]float64) []*models.HMMOutput {
	t.Helper()
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	outs := make([]*models.HMMOutput, 0, len(bars))
	for i, b := range bars {
		out, err := e.Process(b, "AAPL", base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Process bar %d: %v", i, err)
		}
		outs = append(outs, out)
	}
	return outs
}

func TestEngineWarmupThenSwitch(t *testing.T) {
	var decisions []string
	e := scriptedEngine(t, 2,
		WithMinDwellBars(3),
		WithPSwitchThreshold(0.6),
		WithMajorityVoteWindow(3),
		WithDecisionObserver(func(d string) { decisions = append(decisions, d) }),
	)

	bars := []map[string]float64{
		bar2(0.1, -5), // A
		bar2(0.1, -5), // A
		bar2(0.9, -5), // B, blocked by dwell
		bar2(0.9, -5), // B, blocked by majority
		bar2(0.9, -5), // B, accepted
	}
	outs := processAll(t, e, bars)

	want := []int{0, 0, 0, 0, 1}
	for i, out := range outs {
		if out.StateID != want[i] {
			t.Fatalf("bar %d: state = %d, want %d", i, out.StateID, want[i])
		}
		if out.IsOOD {
			t.Fatalf("bar %d: unexpected OOD", i)
		}
	}

	wantDecisions := []string{DecisionInit, DecisionReinforce, DecisionMinDwell, DecisionMajority, DecisionSwitch}
	for i, d := range wantDecisions {
		if decisions[i] != d {
			t.Fatalf("decision %d = %q, want %q", i, decisions[i], d)
		}
	}

	state, dwell := e.CurrentState()
	if state != 1 || dwell != 1 {
		t.Fatalf("after switch: state=%d dwell=%d, want state=1 dwell=1", state, dwell)
	}
}

// bar3 builds a 3-state feature map putting the given mass on one state and
// splitting the remainder over the other two.
func bar3(state int, prob, loglik float64) map[string]float64 {
	rest := (1 - prob) / 2
	m := map[string]float64{"a": rest, "b": rest, "c": rest, "ll": loglik}
	m[string(rune('a'+state))] = prob
	return m
}

func TestEngineTieGoesToCandidate(t *testing.T) {
	e := scriptedEngine(t, 3,
		WithMinDwellBars(2),
		WithPSwitchThreshold(0.5),
		WithMajorityVoteWindow(2),
	)

	bars := []map[string]float64{
		bar3(0, 0.9, -5),
		bar3(0, 0.8, -5),
		bar3(1, 0.9, -5), // refused, window [0,0] outvotes
		bar3(1, 0.9, -5), // window [0,1] ties, candidate wins
	}
	outs := processAll(t, e, bars)

	want := []int{0, 0, 0, 1}
	for i, out := range outs {
		if out.StateID != want[i] {
			t.Fatalf("bar %d: state = %d, want %d", i, out.StateID, want[i])
		}
	}
}

func TestEnginePartialWindowDoesNotVeto(t *testing.T) {
	var decisions []string
	e := scriptedEngine(t, 2,
		WithMinDwellBars(3),
		WithPSwitchThreshold(0.6),
		WithMajorityVoteWindow(3),
		WithDecisionObserver(func(d string) { decisions = append(decisions, d) }),
	)

	// OOD bars age dwell but never enter the window, so by the fourth bar
	// the window holds only [0]. The majority guard is inactive until the
	// window is full, and the confident switch must go through.
	bars := []map[string]float64{
		bar2(0.1, -5),
		bar2(0.5, -60), // OOD
		bar2(0.5, -60), // OOD
		bar2(0.9, -5),
	}
	outs := processAll(t, e, bars)

	if !outs[1].IsOOD || !outs[2].IsOOD {
		t.Fatal("expected bars 1 and 2 to be OOD")
	}
	if outs[3].StateID != 1 {
		t.Fatalf("bar 3: state = %d, want 1 (partial window must not veto)", outs[3].StateID)
	}
	if last := decisions[len(decisions)-1]; last != DecisionSwitch {
		t.Fatalf("decision = %q, want %q", last, DecisionSwitch)
	}
	if state, dwell := e.CurrentState(); state != 1 || dwell != 1 {
		t.Fatalf("after switch: state=%d dwell=%d, want state=1 dwell=1", state, dwell)
	}
}

func TestEngineRefusesLowConfidenceSwitch(t *testing.T) {
	var decisions []string
	e := scriptedEngine(t, 2,
		WithMinDwellBars(2),
		WithPSwitchThreshold(0.6),
		WithMajorityVoteWindow(1),
		WithDecisionObserver(func(d string) { decisions = append(decisions, d) }),
	)

	bars := []map[string]float64{
		bar2(0.1, -5),
		bar2(0.1, -5),
		bar2(0.55, -5), // candidate B below threshold
	}
	outs := processAll(t, e, bars)

	if outs[2].StateID != 0 {
		t.Fatalf("low-confidence switch accepted: state = %d", outs[2].StateID)
	}
	if decisions[2] != DecisionThreshold {
		t.Fatalf("decision = %q, want %q", decisions[2], DecisionThreshold)
	}
	if _, dwell := e.CurrentState(); dwell != 3 {
		t.Fatalf("dwell = %d, want 3 (refusals still age dwell)", dwell)
	}
}

func TestEngineSwitchEmitsCandidateProbability(t *testing.T) {
	e := scriptedEngine(t, 2,
		WithMinDwellBars(1),
		WithPSwitchThreshold(0.6),
		WithMajorityVoteWindow(1),
	)

	bars := []map[string]float64{
		bar2(0.1, -5),
		bar2(0.85, -5), // outvoted by the window, stays on state 0
		bar2(0.85, -5),
	}
	outs := processAll(t, e, bars)

	if outs[1].StateID != 0 {
		t.Fatalf("bar 1: state = %d, want 0", outs[1].StateID)
	}
	if outs[2].StateID != 1 {
		t.Fatalf("bar 2: state = %d, want 1", outs[2].StateID)
	}
	if math.Abs(outs[2].StateProb-0.85) > 1e-12 {
		t.Fatalf("state_prob = %v, want posterior mass of emitted state 0.85", outs[2].StateProb)
	}
}

func TestEngineOODGate(t *testing.T) {
	e := scriptedEngine(t, 2, WithMinDwellBars(2), WithOODThreshold(-50))

	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	if _, err := e.Process(bar2(0.1, -5), "AAPL", base); err != nil {
		t.Fatalf("Process: %v", err)
	}

	out, err := e.Process(bar2(0.9, -50.001), "AAPL", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Process OOD bar: %v", err)
	}
	if !out.IsOOD || out.StateID != models.StateUnknown {
		t.Fatalf("got state=%d ood=%v, want unknown OOD output", out.StateID, out.IsOOD)
	}
	for i, p := range out.Posterior {
		if math.Abs(p-0.5) > 1e-12 {
			t.Fatalf("posterior[%d] = %v, want uniform 0.5", i, p)
		}
	}
	if _, dwell := e.CurrentState(); dwell != 2 {
		t.Fatalf("dwell = %d, want 2 (OOD bars age dwell)", dwell)
	}
	if got := e.LastTimestamp(); !got.Equal(base) {
		t.Fatalf("last timestamp advanced on OOD bar: %v", got)
	}

	// Exactly at the threshold is in-distribution.
	out, err = e.Process(bar2(0.1, -50), "AAPL", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Process boundary bar: %v", err)
	}
	if out.IsOOD {
		t.Fatal("log-likelihood equal to threshold must not be OOD")
	}
}

func TestEngineNaNFeaturesBecomeOOD(t *testing.T) {
	e := scriptedEngine(t, 2, WithOODThreshold(-50))

	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	// Missing "ll" feature projects to NaN log-likelihood.
	out, err := e.Process(map[string]float64{"a": 0.9, "b": 0.1}, "AAPL", base)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !out.IsOOD {
		t.Fatal("NaN log-likelihood must be OOD")
	}
	if !math.IsInf(out.LogLikelihood, -1) {
		t.Fatalf("log_likelihood = %v, want -Inf", out.LogLikelihood)
	}
	if state, dwell := e.CurrentState(); state != models.StateUnknown || dwell != 0 {
		t.Fatalf("uninitialized engine mutated by OOD bar: state=%d dwell=%d", state, dwell)
	}
}

func TestEngineBatchMatchesSequentialReplay(t *testing.T) {
	bars := []map[string]float64{
		bar2(0.1, -5),
		bar2(0.2, -5),
		bar2(0.9, -60), // OOD
		bar2(0.9, -5),
		bar2(0.9, -5),
		bar2(0.9, -5),
	}
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fvs := make([]*models.FeatureVector, 0, len(bars))
	for i, b := range bars {
		fv, err := models.NewFeatureVector("AAPL", base.Add(time.Duration(i)*time.Minute), models.TF1Min, b, false)
		if err != nil {
			t.Fatalf("NewFeatureVector: %v", err)
		}
		fvs = append(fvs, fv)
	}

	seq := scriptedEngine(t, 2)
	want := processAll(t, seq, bars)

	batch := scriptedEngine(t, 2)
	// Dirty the engine first; ProcessBatch must reset before replaying.
	if _, err := batch.Process(bar2(0.9, -5), "AAPL", base.Add(-time.Hour)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := batch.ProcessBatch(fvs)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("batch returned %d outputs, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].StateID != want[i].StateID || got[i].IsOOD != want[i].IsOOD {
			t.Fatalf("bar %d: batch (state=%d ood=%v) != sequential (state=%d ood=%v)",
				i, got[i].StateID, got[i].IsOOD, want[i].StateID, want[i].IsOOD)
		}
	}
}

func TestEngineResetForgetsEverything(t *testing.T) {
	e := scriptedEngine(t, 2)
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	if _, err := e.Process(bar2(0.1, -5), "AAPL", base); err != nil {
		t.Fatalf("Process: %v", err)
	}

	e.Reset()

	if state, dwell := e.CurrentState(); state != models.StateUnknown || dwell != 0 {
		t.Fatalf("after reset: state=%d dwell=%d", state, dwell)
	}
	out, err := e.Process(bar2(0.9, -5), "AAPL", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.StateID != 1 {
		t.Fatalf("first bar after reset must initialize to raw state, got %d", out.StateID)
	}
}

func TestNewEngineRejectsMismatchedDimensions(t *testing.T) {
	meta := scriptedMeta(2)

	if _, err := NewEngine(passthrough{dim: 5}, scriptedModel{nStates: 2}, meta); err == nil {
		t.Fatal("expected error for transform/feature dim mismatch")
	}
	if _, err := NewEngine(passthrough{dim: 3}, scriptedModel{nStates: 3}, meta); err == nil {
		t.Fatal("expected error for model/metadata state mismatch")
	}
	if _, err := NewEngine(nil, scriptedModel{nStates: 2}, meta); err == nil {
		t.Fatal("expected error for nil transform")
	}
}
