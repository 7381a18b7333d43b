package models

import (
	"fmt"
	"time"
)

// ModelMetadata describes one trained regime model bundle. Loaded once per
// engine and immutable afterwards.
type ModelMetadata struct {
	ModelID        string             `json:"model_id"`
	Timeframe      Timeframe          `json:"timeframe"`
	Version        string             `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	TrainingStart  time.Time          `json:"training_start"`
	TrainingEnd    time.Time          `json:"training_end"`
	NStates        int                `json:"n_states"`
	LatentDim      int                `json:"latent_dim"`
	FeatureNames   []string           `json:"feature_names"`
	Symbols        []string           `json:"symbols"`
	ScalerType     string             `json:"scaler_type"`
	EncoderType    string             `json:"encoder_type"`
	CovarianceType string             `json:"covariance_type"`
	StateTTLBars   int                `json:"state_ttl_bars"`
	OODThreshold   float64            `json:"ood_threshold"`
	StateMapping   map[string]string  `json:"state_mapping,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

// Validate rejects metadata that would produce a half-valid engine.
func (m *ModelMetadata) Validate() error {
	if !IsValidTimeframe(m.Timeframe) {
		return fmt.Errorf("invalid timeframe %q (valid: %v)", m.Timeframe, Timeframes())
	}
	if m.NStates < 2 {
		return fmt.Errorf("n_states must be >= 2, got %d", m.NStates)
	}
	if m.LatentDim < 1 {
		return fmt.Errorf("latent_dim must be >= 1, got %d", m.LatentDim)
	}
	return nil
}

// ApplyDefaults fills zero-valued optional fields with the conventions the
// training side uses when a bundle predates them.
func (m *ModelMetadata) ApplyDefaults() {
	if m.ScalerType == "" {
		m.ScalerType = "robust"
	}
	if m.EncoderType == "" {
		m.EncoderType = "pca"
	}
	if m.CovarianceType == "" {
		m.CovarianceType = "diag"
	}
	if m.StateTTLBars == 0 {
		m.StateTTLBars = 1
	}
	if m.OODThreshold == 0 {
		m.OODThreshold = -50.0
	}
}

// StateTTL returns the wall-clock validity window of an emitted state.
func (m *ModelMetadata) StateTTL() time.Duration {
	return m.Timeframe.BarDuration() * time.Duration(m.StateTTLBars)
}
