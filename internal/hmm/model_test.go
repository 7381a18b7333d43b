package hmm

import (
	"math"

	"testing"
)

func twoStateModel(t *testing.T) *GaussianEmissionModel {
	t.Helper()
	m, err := NewGaussianEmissionModel(
		[]float64{0.5, 0.5},
		[][]float64{{-2, -2}, {2, 2}},
		[][]float64{{1, 1}, {1, 1}},
	)
	if err != nil {
		t.Fatalf("NewGaussianEmissionModel: %v", err)
	}
	return m
}

func TestGaussianPosteriorFollowsNearestState(t *testing.T) {
	m := twoStateModel(t)

	post := m.PredictProba([]float64{-2, -2})
	if post[0] <= post[1] {
		t.Fatalf("posterior at state-0 mean = %v, want mass on state 0", post)
	}

	var sum float64
	for _, p := range post {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Fatalf("posterior sums to %v", sum)
	}

	post = m.PredictProba([]float64{2, 2})
	if post[1] <= post[0] {
		t.Fatalf("posterior at state-1 mean = %v, want mass on state 1", post)
	}
}

func TestGaussianLogLikelihoodDropsOffMean(t *testing.T) {
	m := twoStateModel(t)

	near := m.EmissionLogLikelihood([]float64{2, 2})
	far := m.EmissionLogLikelihood([]float64{30, 30})
	if !(near > far) {
		t.Fatalf("log-likelihood near mean (%v) not above far point (%v)", near, far)
	}
}

func TestGaussianNaNPropagates(t *testing.T) {
	m := twoStateModel(t)

	ll := m.EmissionLogLikelihood([]float64{math.NaN(), 0})
	if !math.IsNaN(ll) {
		t.Fatalf("log-likelihood = %v, want NaN", ll)
	}
}

func TestGaussianValidation(t *testing.T) {
	if _, err := NewGaussianEmissionModel([]float64{1.0}, [][]float64{{0}}, [][]float64{{1}}); err == nil {
		t.Fatal("expected error for a single-state model")
	}
	if _, err := NewGaussianEmissionModel(
		[]float64{0.5, 0.5},
		[][]float64{{0}, {1}},
		[][]float64{{1}, {0}},
	); err == nil {
		t.Fatal("expected error for zero variance")
	}
	if _, err := NewGaussianEmissionModel(
		[]float64{0.5, 0.5},
		[][]float64{{0, 0}, {1}},
		[][]float64{{1, 1}, {1, 1}},
	); err == nil {
		t.Fatal("expected error for ragged means")
	}
}
