package hmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// EmissionModel answers posterior and likelihood queries for one latent
// vector. Implementations are immutable once loaded and safe to share by
// reference across many engine instances.
type EmissionModel interface {
	NStates() int
	PredictProba(z []float64) []float64
	EmissionLogLikelihood(z []float64) float64
}

const log2Pi = 1.8378770664093453

// GaussianEmissionModel is a fitted Gaussian state model with diagonal
// covariance. StartProb is the stationary distribution over states;
// Means/Variances hold one row per state in latent space.
type GaussianEmissionModel struct {
	StartProb []float64
	Means     [][]float64
	Variances [][]float64

	logStart []float64
}

// NewGaussianEmissionModel validates fitted parameters and precomputes the
// log prior.
func NewGaussianEmissionModel(startProb []float64, means, variances [][]float64) (*GaussianEmissionModel, error) {
	k := len(startProb)
	if k < 2 {
		return nil, fmt.Errorf("emission model needs >= 2 states, got %d", k)
	}
	if len(means) != k || len(variances) != k {
		return nil, fmt.Errorf("means/variances rows must equal n_states %d", k)
	}
	dim := len(means[0])
	for i := 0; i < k; i++ {
		if len(means[i]) != dim || len(variances[i]) != dim {
			return nil, fmt.Errorf("state %d parameter length != latent dim %d", i, dim)
		}
		for j, v := range variances[i] {
			if v <= 0 {
				return nil, fmt.Errorf("state %d variance[%d] must be positive, got %v", i, j, v)
			}
		}
	}
	logStart := make([]float64, k)
	for i, p := range startProb {
		if p <= 0 {
			logStart[i] = math.Inf(-1)
		} else {
			logStart[i] = math.Log(p)
		}
	}
	return &GaussianEmissionModel{
		StartProb: startProb,
		Means:     means,
		Variances: variances,
		logStart:  logStart,
	}, nil
}

func (m *GaussianEmissionModel) NStates() int { return len(m.StartProb) }

// LatentDim returns the dimensionality the model was fitted on.
func (m *GaussianEmissionModel) LatentDim() int { return len(m.Means[0]) }

// logDensity computes the diagonal Gaussian log density of z under state i.
// NaN latent components make the result NaN, which the caller routes to OOD.
func (m *GaussianEmissionModel) logDensity(i int, z []float64) float64 {
	mu := m.Means[i]
	va := m.Variances[i]
	ll := -0.5 * float64(len(z)) * log2Pi
	for j := range z {
		d := z[j] - mu[j]
		ll -= 0.5 * (math.Log(va[j]) + d*d/va[j])
	}
	return ll
}

// PredictProba returns the posterior over states given z. When every joint
// log weight underflows or is NaN the posterior degrades to uniform; the
// accompanying log-likelihood makes such bars OOD anyway.
func (m *GaussianEmissionModel) PredictProba(z []float64) []float64 {
	k := m.NStates()
	logw := make([]float64, k)
	for i := 0; i < k; i++ {
		logw[i] = m.logStart[i] + m.logDensity(i, z)
	}
	norm := floats.LogSumExp(logw)
	post := make([]float64, k)
	if math.IsNaN(norm) || math.IsInf(norm, -1) {
		for i := range post {
			post[i] = 1.0 / float64(k)
		}
		return post
	}
	for i := 0; i < k; i++ {
		post[i] = math.Exp(logw[i] - norm)
	}
	return post
}

// EmissionLogLikelihood returns log p(z | model), NaN when z is degenerate.
func (m *GaussianEmissionModel) EmissionLogLikelihood(z []float64) float64 {
	k := m.NStates()
	logw := make([]float64, k)
	for i := 0; i < k; i++ {
		logw[i] = m.logStart[i] + m.logDensity(i, z)
	}
	return floats.LogSumExp(logw)
}
