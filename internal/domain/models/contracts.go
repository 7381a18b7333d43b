package models

import (
	"fmt"
	"math"
	"time"
)

// StateUnknown is the state id emitted for out-of-distribution bars.
const StateUnknown = -1

// entropyFloor keeps log(p) finite for degenerate posteriors.
const entropyFloor = 1e-10

// FeatureVector carries one bar's engineered features.
type FeatureVector struct {
	Symbol    string             `json:"symbol"`
	Timestamp time.Time          `json:"timestamp"`
	Timeframe Timeframe          `json:"timeframe"`
	Features  map[string]float64 `json:"features"`
	HasGap    bool               `json:"has_gap"`
}

// NewFeatureVector builds a FeatureVector, rejecting invalid timeframes.
func NewFeatureVector(symbol string, ts time.Time, tf Timeframe, features map[string]float64, hasGap bool) (*FeatureVector, error) {
	if !IsValidTimeframe(tf) {
		return nil, fmt.Errorf("invalid timeframe %q (valid: %v)", tf, Timeframes())
	}
	return &FeatureVector{
		Symbol:    symbol,
		Timestamp: ts,
		Timeframe: tf,
		Features:  features,
		HasGap:    hasGap,
	}, nil
}

// ToVector orders feature values per names. Absent names become NaN so that
// anomalies surface through the out-of-distribution path instead of erroring.
func (f *FeatureVector) ToVector(names []string) []float64 {
	x := make([]float64, len(names))
	for i, name := range names {
		v, ok := f.Features[name]
		if !ok {
			v = math.NaN()
		}
		x[i] = v
	}
	return x
}

// LatentVector is the encoded representation fed to the emission model.
type LatentVector struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Timeframe Timeframe `json:"timeframe"`
	Z         []float64 `json:"z"`
}

// LatentDim returns the dimensionality of the latent space.
func (v LatentVector) LatentDim() int { return len(v.Z) }

// HMMOutput is one immutable regime inference result. OOD bars flow through
// the same shape as normal bars; callers branch on IsOOD, never on type.
type HMMOutput struct {
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	Timeframe     Timeframe `json:"timeframe"`
	ModelID       string    `json:"model_id"`
	StateID       int       `json:"state_id"`
	StateProb     float64   `json:"state_prob"`
	Posterior     []float64 `json:"posterior"`
	LogLikelihood float64   `json:"log_likelihood"`
	IsOOD         bool      `json:"is_ood"`
	Z             []float64 `json:"z,omitempty"`
}

// NewHMMOutput constructs an output, copying the posterior so downstream
// holders can never mutate the engine's view of it.
func NewHMMOutput(symbol string, ts time.Time, tf Timeframe, modelID string, stateID int, stateProb float64, posterior []float64, logLik float64, isOOD bool, z []float64) (*HMMOutput, error) {
	if !IsValidTimeframe(tf) {
		return nil, fmt.Errorf("invalid timeframe %q (valid: %v)", tf, Timeframes())
	}
	p := make([]float64, len(posterior))
	copy(p, posterior)
	return &HMMOutput{
		Symbol:        symbol,
		Timestamp:     ts,
		Timeframe:     tf,
		ModelID:       modelID,
		StateID:       stateID,
		StateProb:     stateProb,
		Posterior:     p,
		LogLikelihood: logLik,
		IsOOD:         isOOD,
		Z:             z,
	}, nil
}

// UnknownOutput builds the out-of-distribution output: uniform posterior,
// StateUnknown id, is_ood set.
func UnknownOutput(symbol string, ts time.Time, tf Timeframe, modelID string, nStates int, logLik float64, z []float64) (*HMMOutput, error) {
	uniform := make([]float64, nStates)
	for i := range uniform {
		uniform[i] = 1.0 / float64(nStates)
	}
	return NewHMMOutput(symbol, ts, tf, modelID, StateUnknown, 1.0/float64(nStates), uniform, logLik, true, z)
}

// NStates returns the number of states in the posterior.
func (o *HMMOutput) NStates() int { return len(o.Posterior) }

// Entropy computes -sum(p*log(p)) over the posterior. Probabilities are
// floored at 1e-10 so the result is always finite, including for OOD bars.
func (o *HMMOutput) Entropy() float64 {
	var h float64
	for _, p := range o.Posterior {
		if p < entropyFloor {
			p = entropyFloor
		}
		if p > 1.0 {
			p = 1.0
		}
		h -= p * math.Log(p)
	}
	return h
}
