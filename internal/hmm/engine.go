package hmm

import (
	"fmt"
	"math"
	"time"

	"RegimePulse/internal/domain/models"
)

const (
	defaultPSwitchThreshold   = 0.6
	defaultMinDwellBars       = 3
	defaultMajorityVoteWindow = 3
)

// Decision reasons reported to the observer for every processed bar.
const (
	DecisionInit      = "init"
	DecisionReinforce = "reinforce"
	DecisionMinDwell  = "min_dwell"
	DecisionThreshold = "threshold"
	DecisionMajority  = "majority"
	DecisionSwitch    = "switch"
	DecisionOOD       = "ood"
)

// hysteresisState carries everything the anti-chatter policy needs between
// bars for one (symbol, timeframe) stream.
type hysteresisState struct {
	initialized   bool
	currentState  int
	currentProb   float64
	dwellCount    int
	lastTimestamp time.Time
	recentStates  []int
}

// Engine runs online regime inference for a single stream: feature vector
// in, confirmed regime out. Not safe for concurrent use; the coordinator
// serializes access per timeframe.
type Engine struct {
	transform FeatureTransform
	model     EmissionModel
	meta      *models.ModelMetadata

	pSwitchThreshold   float64
	minDwellBars       int
	majorityVoteWindow int
	oodThreshold       float64

	observer func(decision string)

	state hysteresisState
}

// EngineOption overrides an engine policy knob.
type EngineOption func(*Engine)

func WithPSwitchThreshold(p float64) EngineOption {
	return func(e *Engine) { e.pSwitchThreshold = p }
}

func WithMinDwellBars(n int) EngineOption {
	return func(e *Engine) { e.minDwellBars = n }
}

func WithMajorityVoteWindow(n int) EngineOption {
	return func(e *Engine) { e.majorityVoteWindow = n }
}

func WithOODThreshold(t float64) EngineOption {
	return func(e *Engine) { e.oodThreshold = t }
}

// WithDecisionObserver registers a callback invoked once per processed bar
// with the policy decision taken. Used to feed metrics without widening the
// output contract.
func WithDecisionObserver(fn func(decision string)) EngineOption {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine builds an inference engine from a fitted transform, emission
// model and its metadata. The OOD threshold defaults from metadata and can
// be overridden per engine.
func NewEngine(transform FeatureTransform, model EmissionModel, meta *models.ModelMetadata, opts ...EngineOption) (*Engine, error) {
	if transform == nil || model == nil {
		return nil, fmt.Errorf("engine requires a transform and an emission model")
	}
	if meta == nil {
		return nil, fmt.Errorf("engine requires model metadata")
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model metadata: %w", err)
	}
	if model.NStates() != meta.NStates {
		return nil, fmt.Errorf("emission model has %d states, metadata says %d", model.NStates(), meta.NStates)
	}
	if transform.InputDim() != len(meta.FeatureNames) {
		return nil, fmt.Errorf("transform input dim %d != feature count %d", transform.InputDim(), len(meta.FeatureNames))
	}
	if transform.OutputDim() != meta.LatentDim {
		return nil, fmt.Errorf("transform output dim %d != latent dim %d", transform.OutputDim(), meta.LatentDim)
	}

	e := &Engine{
		transform:          transform,
		model:              model,
		meta:               meta,
		pSwitchThreshold:   defaultPSwitchThreshold,
		minDwellBars:       defaultMinDwellBars,
		majorityVoteWindow: defaultMajorityVoteWindow,
		oodThreshold:       meta.OODThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e, nil
}

// Metadata returns the metadata of the loaded model.
func (e *Engine) Metadata() *models.ModelMetadata { return e.meta }

// Reset clears all hysteresis state. The next bar re-initializes the engine
// as if it had never seen data.
func (e *Engine) Reset() {
	e.state = hysteresisState{
		currentState: models.StateUnknown,
		recentStates: make([]int, 0, e.majorityVoteWindow),
	}
}

// CurrentState returns the confirmed state and how many consecutive bars it
// has held, or (StateUnknown, 0) before initialization.
func (e *Engine) CurrentState() (int, int) {
	if !e.state.initialized {
		return models.StateUnknown, 0
	}
	return e.state.currentState, e.state.dwellCount
}

// LastTimestamp returns the timestamp of the most recent in-distribution bar.
func (e *Engine) LastTimestamp() time.Time { return e.state.lastTimestamp }

// Latent projects a raw feature map into latent space without touching any
// hysteresis state. Used by the diagnostic infer endpoint.
func (e *Engine) Latent(features map[string]float64, symbol string, ts time.Time) (*models.LatentVector, error) {
	fv, err := models.NewFeatureVector(symbol, ts, e.meta.Timeframe, features, false)
	if err != nil {
		return nil, err
	}
	z := e.transform.Transform(fv.ToVector(e.meta.FeatureNames))
	return &models.LatentVector{Symbol: symbol, Timestamp: ts, Timeframe: e.meta.Timeframe, Z: z}, nil
}

// Process runs one bar through transform, emission and the anti-chatter
// policy and returns the confirmed output.
func (e *Engine) Process(features map[string]float64, symbol string, ts time.Time) (*models.HMMOutput, error) {
	fv, err := models.NewFeatureVector(symbol, ts, e.meta.Timeframe, features, false)
	if err != nil {
		return nil, err
	}
	z := e.transform.Transform(fv.ToVector(e.meta.FeatureNames))

	logLik := e.model.EmissionLogLikelihood(z)
	if math.IsNaN(logLik) || logLik < e.oodThreshold {
		// OOD bars still age the dwell counter but never enter the
		// vote window or advance the stream clock.
		if e.state.initialized {
			e.state.dwellCount++
		}
		e.observe(DecisionOOD)
		reported := logLik
		if math.IsNaN(reported) {
			reported = math.Inf(-1)
		}
		return models.UnknownOutput(symbol, ts, e.meta.Timeframe, e.meta.ModelID, e.model.NStates(), reported, z)
	}

	posterior := e.model.PredictProba(z)
	rawState := argmax(posterior)
	rawProb := posterior[rawState]

	finalState, decision := e.applyTransition(rawState, rawProb)
	e.pushRecent(rawState)
	e.state.lastTimestamp = ts
	e.observe(decision)

	return models.NewHMMOutput(symbol, ts, e.meta.Timeframe, e.meta.ModelID, finalState, posterior[finalState], posterior, logLik, false, z)
}

// ProcessBatch resets the engine and replays bars strictly in order,
// returning one output per bar.
func (e *Engine) ProcessBatch(bars []*models.FeatureVector) ([]*models.HMMOutput, error) {
	e.Reset()
	outs := make([]*models.HMMOutput, 0, len(bars))
	for i, bar := range bars {
		out, err := e.Process(bar.Features, bar.Symbol, bar.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// applyTransition evaluates the anti-chatter policy for an in-distribution
// bar and mutates hysteresis state accordingly. Branches are checked in
// order; the first match wins.
func (e *Engine) applyTransition(rawState int, rawProb float64) (int, string) {
	s := &e.state

	if !s.initialized {
		s.initialized = true
		s.currentState = rawState
		s.currentProb = rawProb
		s.dwellCount = 1
		return rawState, DecisionInit
	}

	if rawState == s.currentState {
		s.dwellCount++
		s.currentProb = rawProb
		return s.currentState, DecisionReinforce
	}

	if s.dwellCount < e.minDwellBars {
		s.dwellCount++
		return s.currentState, DecisionMinDwell
	}

	if rawProb < e.pSwitchThreshold {
		s.dwellCount++
		return s.currentState, DecisionThreshold
	}

	if e.majorityAgainst(rawState) {
		s.dwellCount++
		return s.currentState, DecisionMajority
	}

	s.currentState = rawState
	s.currentProb = rawProb
	s.dwellCount = 1
	return rawState, DecisionSwitch
}

// majorityAgainst reports whether any state's count in the recent window
// strictly exceeds the candidate's own count. A tie goes to the candidate.
// The guard only applies once the window is full; OOD bars do not enter the
// window, so a partially filled window must not veto a confident switch.
func (e *Engine) majorityAgainst(rawState int) bool {
	if len(e.state.recentStates) < e.majorityVoteWindow {
		return false
	}
	counts := make(map[int]int, len(e.state.recentStates))
	for _, st := range e.state.recentStates {
		counts[st]++
	}
	own := counts[rawState]
	for st, n := range counts {
		if st != rawState && n > own {
			return true
		}
	}
	return false
}

func (e *Engine) pushRecent(rawState int) {
	s := &e.state
	s.recentStates = append(s.recentStates, rawState)
	if len(s.recentStates) > e.majorityVoteWindow {
		s.recentStates = s.recentStates[len(s.recentStates)-e.majorityVoteWindow:]
	}
}

func (e *Engine) observe(decision string) {
	if e.observer != nil {
		e.observer(decision)
	}
}

func argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}
