package artifacts

import (
	"time"

	"testing"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/hmm"
)

func testBundle(t *testing.T, modelID string, tf models.Timeframe) *Bundle {
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
	return &Bundle{
		Pipeline: pipeline,
		Model:    model,
		Meta: &models.ModelMetadata{
			ModelID:      modelID,
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

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	if err := s.Save("AAPL", testBundle(t, "state_v001", models.TF1Min)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !s.Exists("AAPL", models.TF1Min, "state_v001") {
		t.Fatal("saved bundle not found")
	}

	b, err := s.Load("AAPL", models.TF1Min, "state_v001")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Meta.ModelID != "state_v001" || b.Meta.NStates != 2 {
		t.Fatalf("meta = %+v", b.Meta)
	}
	if b.Model.NStates() != 2 || b.Pipeline.OutputDim() != 2 {
		t.Fatalf("loaded components: states=%d latent=%d", b.Model.NStates(), b.Pipeline.OutputDim())
	}

	e, err := b.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	out, err := e.Process(map[string]float64{"ret": 1, "vol": 1}, "AAPL", time.Now())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.IsOOD || out.StateID != 1 {
		t.Fatalf("got state=%d ood=%v, want in-distribution state 1", out.StateID, out.IsOOD)
	}
}

func TestStoreLatestAndNextID(t *testing.T) {
	s := NewStore(t.TempDir())
	for _, id := range []string{"state_v001", "state_v002", "state_v010"} {
		if err := s.Save("AAPL", testBundle(t, id, models.TF1Hour)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	ids, err := s.ListModels("AAPL", models.TF1Hour)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(ids) != 3 || ids[2] != "state_v010" {
		t.Fatalf("ListModels = %v", ids)
	}

	latest, err := s.LatestModel("AAPL", models.TF1Hour)
	if err != nil {
		t.Fatalf("LatestModel: %v", err)
	}
	if latest != "state_v010" {
		t.Fatalf("LatestModel = %s", latest)
	}

	next, err := s.NextModelID("AAPL", models.TF1Hour)
	if err != nil {
		t.Fatalf("NextModelID: %v", err)
	}
	if next != "state_v011" {
		t.Fatalf("NextModelID = %s", next)
	}
}

func TestStoreEmptyPair(t *testing.T) {
	s := NewStore(t.TempDir())

	ids, err := s.ListModels("TSLA", models.TF1Min)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListModels = %v, want empty", ids)
	}

	if _, err := s.LatestModel("TSLA", models.TF1Min); err == nil {
		t.Fatal("expected error for pair with no models")
	}

	next, err := s.NextModelID("TSLA", models.TF1Min)
	if err != nil {
		t.Fatalf("NextModelID: %v", err)
	}
	if next != "state_v001" {
		t.Fatalf("NextModelID = %s", next)
	}
}
