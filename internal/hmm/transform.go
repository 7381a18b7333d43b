package hmm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// FeatureTransform maps a raw feature vector into latent space. Transforms
// are pure and synchronous; numeric anomalies (NaN inputs) propagate through
// rather than erroring, and are absorbed later by the OOD gate.
type FeatureTransform interface {
	Transform(x []float64) []float64
	InputDim() int
	OutputDim() int
}

// Scaler recenters and rescales features elementwise. Covers the standard
// (mean/std) and robust (median/IQR) variants: the fitted center and scale
// vectors are all the inference side needs.
type Scaler struct {
	Center []float64
	Scale  []float64
}

// NewScaler validates fitted scaler parameters.
func NewScaler(center, scale []float64) (*Scaler, error) {
	if len(center) == 0 || len(center) != len(scale) {
		return nil, fmt.Errorf("scaler center/scale length mismatch: %d vs %d", len(center), len(scale))
	}
	for i, s := range scale {
		if s == 0 {
			return nil, fmt.Errorf("scaler scale[%d] is zero", i)
		}
	}
	return &Scaler{Center: center, Scale: scale}, nil
}

func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = (x[i] - s.Center[i]) / s.Scale[i]
	}
	return out
}

func (s *Scaler) InputDim() int  { return len(s.Center) }
func (s *Scaler) OutputDim() int { return len(s.Center) }

// PCAEncoder projects scaled features onto fitted principal components.
// Components is row-major: one row per latent dimension.
type PCAEncoder struct {
	Mean       []float64
	Components [][]float64
}

// NewPCAEncoder validates fitted encoder parameters.
func NewPCAEncoder(mean []float64, components [][]float64) (*PCAEncoder, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("pca encoder has no components")
	}
	for i, row := range components {
		if len(row) != len(mean) {
			return nil, fmt.Errorf("pca component %d length %d != mean length %d", i, len(row), len(mean))
		}
	}
	return &PCAEncoder{Mean: mean, Components: components}, nil
}

func (e *PCAEncoder) Transform(x []float64) []float64 {
	centered := make([]float64, len(x))
	floats.SubTo(centered, x, e.Mean)
	z := make([]float64, len(e.Components))
	for i, row := range e.Components {
		z[i] = floats.Dot(row, centered)
	}
	return z
}

func (e *PCAEncoder) InputDim() int  { return len(e.Mean) }
func (e *PCAEncoder) OutputDim() int { return len(e.Components) }

// Pipeline composes scaler then encoder, mirroring how the training side
// fits them.
type Pipeline struct {
	scaler  *Scaler
	encoder *PCAEncoder
}

// NewPipeline composes a fitted scaler and encoder, checking dimensions.
func NewPipeline(scaler *Scaler, encoder *PCAEncoder) (*Pipeline, error) {
	if scaler == nil || encoder == nil {
		return nil, fmt.Errorf("pipeline requires scaler and encoder")
	}
	if scaler.OutputDim() != encoder.InputDim() {
		return nil, fmt.Errorf("pipeline dim mismatch: scaler out %d, encoder in %d", scaler.OutputDim(), encoder.InputDim())
	}
	return &Pipeline{scaler: scaler, encoder: encoder}, nil
}

func (p *Pipeline) Transform(x []float64) []float64 {
	return p.encoder.Transform(p.scaler.Transform(x))
}

func (p *Pipeline) Scaler() *Scaler      { return p.scaler }
func (p *Pipeline) Encoder() *PCAEncoder { return p.encoder }

func (p *Pipeline) InputDim() int  { return p.scaler.InputDim() }
func (p *Pipeline) OutputDim() int { return p.encoder.OutputDim() }
