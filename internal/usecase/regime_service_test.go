package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/hmm"
	"RegimePulse/internal/service/artifacts"
	applogger "RegimePulse/pkg/logger"
)

type memOutputs struct {
	mu   sync.Mutex
	rows []*models.HMMOutput
}

func (m *memOutputs) Store(_ context.Context, o *models.HMMOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, o)
	return nil
}

func (m *memOutputs) StoreBatch(_ context.Context, outs []*models.HMMOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, outs...)
	return nil
}

func (m *memOutputs) Query(_ context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.HMMOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*models.HMMOutput
	for _, o := range m.rows {
		if o.Symbol != symbol || o.Timeframe != tf {
			continue
		}
		if o.Timestamp.Before(from) || o.Timestamp.After(to) {
			continue
		}
		res = append(res, o)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (m *memOutputs) Health(context.Context) error { return nil }

func (m *memOutputs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *memPublisher) Publish(context.Context, *models.HMMOutput) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memStateCache struct {
	mu sync.Mutex
	m  map[string]*models.HMMOutput
}

func newMemStateCache() *memStateCache {
	return &memStateCache{m: make(map[string]*models.HMMOutput)}
}

func (c *memStateCache) SetLatest(_ context.Context, o *models.HMMOutput, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[o.Symbol+"|"+string(o.Timeframe)] = o
	return nil
}

func (c *memStateCache) GetLatest(_ context.Context, symbol string, tf models.Timeframe) (*models.HMMOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.m[symbol+"|"+string(tf)]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("miss")
}

type memFeatures struct {
	bars []*models.FeatureVector
}

func (f *memFeatures) Store(_ context.Context, fv *models.FeatureVector) error {
	f.bars = append(f.bars, fv)
	return nil
}

func (f *memFeatures) GetRange(_ context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]*models.FeatureVector, error) {
	var res []*models.FeatureVector
	for _, b := range f.bars {
		if b.Symbol == symbol && b.Timeframe == tf && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			res = append(res, b)
		}
	}
	return res, nil
}

func (f *memFeatures) GetLatestN(_ context.Context, symbol string, tf models.Timeframe, n int) ([]*models.FeatureVector, error) {
	bars, _ := f.GetRange(context.Background(), symbol, tf, time.Time{}, time.Unix(1<<40, 0))
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordBarProcessed(string, string)      {}
func (nopMetrics) RecordOOD(string, string)               {}
func (nopMetrics) RecordDecision(string)                  {}
func (nopMetrics) RecordCurrentState(string, string, int) {}
func (nopMetrics) RecordError(string)                     {}
func (nopMetrics) RecordLatency(string, float64)          {}

func serviceBundle(t *testing.T, tf models.Timeframe) *artifacts.Bundle {
	t.Helper()
	scaler, err := hmm.NewScaler([]float64{0, 0}, []float64{1, 1})
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}
	encoder, err := hmm.NewPCAEncoder([]float64{0, 0}, [][]float64{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("NewPCAEncoder: %v", err)
	}
	pipeline, err := hmm.NewPipeline(scaler, encoder)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	model, err := hmm.NewGaussianEmissionModel(
		[]float64{0.5, 0.5},
		[][]float64{{-1, -1}, {1, 1}},
		[][]float64{{1, 1}, {1, 1}},
	)
	if err != nil {
		t.Fatalf("NewGaussianEmissionModel: %v", err)
	}
	return &artifacts.Bundle{
		Pipeline: pipeline,
		Model:    model,
		Meta: &models.ModelMetadata{
			ModelID:      "state_v001",
			Timeframe:    tf,
			Version:      "1.0",
			CreatedAt:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			NStates:      2,
			LatentDim:    2,
			FeatureNames: []string{"ret", "vol"},
			ScalerType:   "robust",
			EncoderType:  "pca",
			StateTTLBars: 1,
			OODThreshold: -50,
		},
	}
}

type serviceFixture struct {
	svc      *RegimeService
	outputs  *memOutputs
	pub      *memPublisher
	cache    *memStateCache
	features *memFeatures
}

func newServiceFixture(t *testing.T, clock time.Time, opts ...RegimeServiceOption) *serviceFixture {
	t.Helper()
	store := artifacts.NewStore(t.TempDir())
	if err := store.Save("AAPL", serviceBundle(t, models.TF1Min)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fx := &serviceFixture{
		outputs:  &memOutputs{},
		pub:      &memPublisher{},
		cache:    newMemStateCache(),
		features: &memFeatures{},
	}
	lgr, err := applogger.New(&applogger.Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	all := append([]RegimeServiceOption{WithClock(func() time.Time { return clock })}, opts...)
	svc, err := NewRegimeService(
		store,
		[]string{"AAPL"},
		[]models.Timeframe{models.TF1Min},
		fx.outputs, fx.pub, fx.cache, fx.features,
		nopMetrics{}, lgr,
		all...,
	)
	if err != nil {
		t.Fatalf("NewRegimeService: %v", err)
	}
	fx.svc = svc
	return fx
}

func bar(t *testing.T, ts time.Time, ret, vol float64) *models.FeatureVector {
	t.Helper()
	fv, err := models.NewFeatureVector("AAPL", ts, models.TF1Min, map[string]float64{"ret": ret, "vol": vol}, false)
	if err != nil {
		t.Fatalf("NewFeatureVector: %v", err)
	}
	return fv
}

func TestRegimeServiceProcessFansOut(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fx := newServiceFixture(t, ts)

	out, err := fx.svc.Process(context.Background(), bar(t, ts, 1, 1))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.IsOOD {
		t.Fatal("in-distribution bar flagged as OOD")
	}
	if out.StateID != 1 {
		t.Fatalf("StateID = %d, want 1", out.StateID)
	}
	if fx.outputs.count() != 1 {
		t.Fatalf("stored outputs = %d, want 1", fx.outputs.count())
	}
	if fx.pub.n != 1 {
		t.Fatalf("published outputs = %d, want 1", fx.pub.n)
	}
	if _, err := fx.cache.GetLatest(context.Background(), "AAPL", models.TF1Min); err != nil {
		t.Fatal("state cache not populated after Process")
	}

	cur, err := fx.svc.Current(context.Background(), "AAPL", models.TF1Min)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.StateID != out.StateID {
		t.Fatalf("Current StateID = %d, want %d", cur.StateID, out.StateID)
	}
}

func TestRegimeServiceCurrentFallsBackToCache(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fx := newServiceFixture(t, ts)

	// Simulate a restart: the coordinator has seen nothing, but a previous
	// process left the latest state in the shared cache.
	cached, err := models.NewHMMOutput("AAPL", ts.Add(-30*time.Second), models.TF1Min, "state_v001", 0, 0.9, []float64{0.9, 0.1}, -2, false, nil)
	if err != nil {
		t.Fatalf("NewHMMOutput: %v", err)
	}
	if err := fx.cache.SetLatest(context.Background(), cached, time.Minute); err != nil {
		t.Fatalf("SetLatest: %v", err)
	}

	cur, err := fx.svc.Current(context.Background(), "AAPL", models.TF1Min)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.StateID != 0 || cur.StateProb != 0.9 {
		t.Fatalf("got state %d prob %v from cache, want 0 / 0.9", cur.StateID, cur.StateProb)
	}
}

func TestRegimeServiceBackfillLeavesLiveStateAlone(t *testing.T) {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fx := newServiceFixture(t, base)

	for i := 0; i < 3; i++ {
		if err := fx.features.Store(context.Background(), bar(t, base.Add(time.Duration(i)*time.Minute), 1, 1)); err != nil {
			t.Fatalf("Store bar: %v", err)
		}
	}

	n, err := fx.svc.Backfill(context.Background(), "AAPL", models.TF1Min, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != 3 {
		t.Fatalf("backfilled %d bars, want 3", n)
	}
	if fx.outputs.count() != 3 {
		t.Fatalf("stored outputs = %d, want 3", fx.outputs.count())
	}

	// The replay must not touch the live coordinator or state cache.
	if _, err := fx.svc.Current(context.Background(), "AAPL", models.TF1Min); err == nil {
		t.Fatal("Current succeeded without any live bars")
	}
}

func TestRegimeServiceInferIsEphemeral(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fx := newServiceFixture(t, ts)

	out, latent, err := fx.svc.Infer(context.Background(), "AAPL", models.TF1Min, map[string]float64{"ret": -1, "vol": -1}, ts)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if out.StateID != 0 {
		t.Fatalf("StateID = %d, want 0", out.StateID)
	}
	if latent == nil || len(latent.Z) != 2 {
		t.Fatalf("latent = %+v, want 2-dim vector", latent)
	}
	if fx.outputs.count() != 0 || fx.pub.n != 0 {
		t.Fatal("Infer leaked into persistence or publishing")
	}
}

func TestRegimeServiceRejectsUnknownSymbol(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	fx := newServiceFixture(t, ts)

	fv, err := models.NewFeatureVector("MSFT", ts, models.TF1Min, map[string]float64{"ret": 0, "vol": 0}, false)
	if err != nil {
		t.Fatalf("NewFeatureVector: %v", err)
	}
	if _, err := fx.svc.Process(context.Background(), fv); err == nil {
		t.Fatal("Process accepted a symbol with no loaded models")
	}
}
