package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/hmm"
)

const (
	scalerFile   = "scaler.json"
	encoderFile  = "encoder.json"
	hmmFile      = "hmm.json"
	metadataFile = "metadata.json"
)

// Store reads and writes trained model bundles under a partitioned layout:
//
//	root/ticker=SYM/timeframe=TF/model_id=ID/{scaler,encoder,hmm,metadata}.json
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Bundle is one fully loaded model: the fitted feature pipeline, the
// emission model and its metadata.
type Bundle struct {
	Pipeline *hmm.Pipeline
	Model    *hmm.GaussianEmissionModel
	Meta     *models.ModelMetadata
}

// Engine builds a fresh inference engine over the bundle. Each call returns
// an independent hysteresis state; the shared pipeline and model are
// immutable.
func (b *Bundle) Engine(opts ...hmm.EngineOption) (*hmm.Engine, error) {
	return hmm.NewEngine(b.Pipeline, b.Model, b.Meta, opts...)
}

type scalerDoc struct {
	Type   string    `json:"type"`
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

type encoderDoc struct {
	Type       string      `json:"type"`
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"`
}

type hmmDoc struct {
	NStates   int         `json:"n_states"`
	StartProb []float64   `json:"start_prob"`
	Means     [][]float64 `json:"means"`
	Variances [][]float64 `json:"variances"`
}

// ModelDir returns the directory holding one model's artifacts.
func (s *Store) ModelDir(ticker string, tf models.Timeframe, modelID string) string {
	return filepath.Join(s.root,
		"ticker="+ticker,
		"timeframe="+string(tf),
		"model_id="+modelID,
	)
}

// Exists reports whether a complete bundle is present for the model.
func (s *Store) Exists(ticker string, tf models.Timeframe, modelID string) bool {
	dir := s.ModelDir(ticker, tf, modelID)
	for _, name := range []string{scalerFile, encoderFile, hmmFile, metadataFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// ListModels returns the model ids present for one (ticker, timeframe),
// sorted ascending. Versioned ids sort chronologically by construction.
func (s *Store) ListModels(ticker string, tf models.Timeframe) ([]string, error) {
	parent := filepath.Join(s.root, "ticker="+ticker, "timeframe="+string(tf))
	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list models for %s/%s: %w", ticker, tf, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := strings.CutPrefix(e.Name(), "model_id=")
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestModel returns the newest model id, or an error when none exist.
func (s *Store) LatestModel(ticker string, tf models.Timeframe) (string, error) {
	ids, err := s.ListModels(ticker, tf)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no models for %s/%s", ticker, tf)
	}
	return ids[len(ids)-1], nil
}

// NextModelID generates the next versioned id, continuing from whatever
// versions already exist for the pair.
func (s *Store) NextModelID(ticker string, tf models.Timeframe) (string, error) {
	ids, err := s.ListModels(ticker, tf)
	if err != nil {
		return "", err
	}
	next := 1
	for _, id := range ids {
		var v int
		if _, err := fmt.Sscanf(id, "state_v%03d", &v); err == nil && v >= next {
			next = v + 1
		}
	}
	return fmt.Sprintf("state_v%03d", next), nil
}

// Load reads one bundle and assembles runnable components from it.
func (s *Store) Load(ticker string, tf models.Timeframe, modelID string) (*Bundle, error) {
	dir := s.ModelDir(ticker, tf, modelID)

	var sd scalerDoc
	if err := readJSON(filepath.Join(dir, scalerFile), &sd); err != nil {
		return nil, err
	}
	scaler, err := hmm.NewScaler(sd.Center, sd.Scale)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", modelID, err)
	}

	var ed encoderDoc
	if err := readJSON(filepath.Join(dir, encoderFile), &ed); err != nil {
		return nil, err
	}
	encoder, err := hmm.NewPCAEncoder(ed.Mean, ed.Components)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", modelID, err)
	}

	pipeline, err := hmm.NewPipeline(scaler, encoder)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", modelID, err)
	}

	var hd hmmDoc
	if err := readJSON(filepath.Join(dir, hmmFile), &hd); err != nil {
		return nil, err
	}
	model, err := hmm.NewGaussianEmissionModel(hd.StartProb, hd.Means, hd.Variances)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", modelID, err)
	}

	meta := &models.ModelMetadata{}
	if err := readJSON(filepath.Join(dir, metadataFile), meta); err != nil {
		return nil, err
	}
	meta.ApplyDefaults()
	if meta.ModelID == "" {
		meta.ModelID = modelID
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("bundle %s metadata: %w", modelID, err)
	}

	return &Bundle{Pipeline: pipeline, Model: model, Meta: meta}, nil
}

// LoadLatest resolves and loads the newest model for a pair.
func (s *Store) LoadLatest(ticker string, tf models.Timeframe) (*Bundle, error) {
	id, err := s.LatestModel(ticker, tf)
	if err != nil {
		return nil, err
	}
	return s.Load(ticker, tf, id)
}

// Save persists a bundle under its metadata's model id.
func (s *Store) Save(ticker string, b *Bundle) error {
	if b == nil || b.Meta == nil {
		return fmt.Errorf("save: nil bundle")
	}
	if err := b.Meta.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", b.Meta.ModelID, err)
	}
	dir := s.ModelDir(ticker, b.Meta.Timeframe, b.Meta.ModelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save %s: %w", b.Meta.ModelID, err)
	}

	sd := scalerDoc{Type: b.Meta.ScalerType, Center: b.Pipeline.Scaler().Center, Scale: b.Pipeline.Scaler().Scale}
	if err := writeJSON(filepath.Join(dir, scalerFile), sd); err != nil {
		return err
	}
	ed := encoderDoc{Type: b.Meta.EncoderType, Mean: b.Pipeline.Encoder().Mean, Components: b.Pipeline.Encoder().Components}
	if err := writeJSON(filepath.Join(dir, encoderFile), ed); err != nil {
		return err
	}
	hd := hmmDoc{
		NStates:   b.Model.NStates(),
		StartProb: b.Model.StartProb,
		Means:     b.Model.Means,
		Variances: b.Model.Variances,
	}
	if err := writeJSON(filepath.Join(dir, hmmFile), hd); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, metadataFile), b.Meta)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
