package usecase

import (
	"context"
	"fmt"
	"time"

	"RegimePulse/internal/domain/models"
	domrepo "RegimePulse/internal/domain/repository"
	"RegimePulse/internal/hmm"
	"RegimePulse/internal/service/artifacts"
	applogger "RegimePulse/pkg/logger"
)

// RegimeService owns the live inference coordinators, one per symbol, and
// fans confirmed outputs to storage, Kafka and the state cache. All mutable
// engine state lives behind the coordinators, so the service itself is safe
// for concurrent use after construction.
type RegimeService struct {
	store      *artifacts.Store
	coords     map[string]*hmm.Coordinator
	bundles    map[string]map[models.Timeframe]*artifacts.Bundle
	outputs    domrepo.OutputStore
	pub        domrepo.Publisher
	stateCache domrepo.StateCache
	features   domrepo.FeatureStore
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	engineOpts []hmm.EngineOption
	now        func() time.Time
}

// RegimeServiceOption configures RegimeService.
type RegimeServiceOption func(*RegimeService)

// WithEngineOptions sets policy overrides applied to every engine built by
// the service, live and disposable alike.
func WithEngineOptions(opts ...hmm.EngineOption) RegimeServiceOption {
	return func(s *RegimeService) { s.engineOpts = opts }
}

// WithClock overrides the freshness clock.
func WithClock(now func() time.Time) RegimeServiceOption {
	return func(s *RegimeService) { s.now = now }
}

// NewRegimeService loads the latest model bundle for every requested
// (symbol, timeframe) pair and builds the live coordinators. Pairs without a
// trained model are skipped with a warning; a symbol with no models at all
// is an error.
func NewRegimeService(
	store *artifacts.Store,
	symbols []string,
	timeframes []models.Timeframe,
	outputs domrepo.OutputStore,
	pub domrepo.Publisher,
	stateCache domrepo.StateCache,
	features domrepo.FeatureStore,
	metrics domrepo.Metrics,
	lgr *applogger.Logger,
	opts ...RegimeServiceOption,
) (*RegimeService, error) {
	s := &RegimeService{
		store:      store,
		coords:     make(map[string]*hmm.Coordinator, len(symbols)),
		bundles:    make(map[string]map[models.Timeframe]*artifacts.Bundle, len(symbols)),
		outputs:    outputs,
		pub:        pub,
		stateCache: stateCache,
		features:   features,
		metrics:    metrics,
		logger:     lgr,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, symbol := range symbols {
		coord := hmm.NewCoordinator()
		s.bundles[symbol] = make(map[models.Timeframe]*artifacts.Bundle, len(timeframes))

		for _, tf := range timeframes {
			bundle, err := store.LoadLatest(symbol, tf)
			if err != nil {
				s.logger.Warn("no model for pair, skipping",
					applogger.String("symbol", symbol),
					applogger.String("tf", string(tf)),
					applogger.Error(err),
				)
				continue
			}
			engine, err := bundle.Engine(s.liveEngineOpts()...)
			if err != nil {
				return nil, fmt.Errorf("engine for %s/%s: %w", symbol, tf, err)
			}
			coord.Register(engine)
			s.bundles[symbol][tf] = bundle
			s.logger.Info("model loaded",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.String("model_id", bundle.Meta.ModelID),
				applogger.Int("n_states", bundle.Meta.NStates),
			)
		}

		if len(coord.Timeframes()) == 0 {
			return nil, fmt.Errorf("symbol %s has no trained models", symbol)
		}
		s.coords[symbol] = coord
	}

	return s, nil
}

func (s *RegimeService) liveEngineOpts() []hmm.EngineOption {
	opts := make([]hmm.EngineOption, 0, len(s.engineOpts)+1)
	opts = append(opts, s.engineOpts...)
	opts = append(opts, hmm.WithDecisionObserver(s.metrics.RecordDecision))
	return opts
}

func (s *RegimeService) coordinator(symbol string) (*hmm.Coordinator, error) {
	coord, ok := s.coords[symbol]
	if !ok {
		return nil, fmt.Errorf("no models loaded for symbol %s", symbol)
	}
	return coord, nil
}

func (s *RegimeService) bundle(symbol string, tf models.Timeframe) (*artifacts.Bundle, error) {
	if b, ok := s.bundles[symbol][tf]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no model loaded for %s/%s", symbol, tf)
}

// Symbols lists symbols with live coordinators.
func (s *RegimeService) Symbols() []string {
	symbols := make([]string, 0, len(s.coords))
	for sym := range s.coords {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Timeframes lists the live timeframes for one symbol.
func (s *RegimeService) Timeframes(symbol string) ([]models.Timeframe, error) {
	coord, err := s.coordinator(symbol)
	if err != nil {
		return nil, err
	}
	return coord.Timeframes(), nil
}

// Process runs one live bar through the symbol's coordinator and fans the
// confirmed output to storage, the outputs topic and the state cache. Fan-out
// failures are logged and counted but never block the inference path.
func (s *RegimeService) Process(ctx context.Context, fv *models.FeatureVector) (*models.HMMOutput, error) {
	coord, err := s.coordinator(fv.Symbol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := coord.Process(fv.Timeframe, fv.Features, fv.Symbol, fv.Timestamp)
	if err != nil {
		s.metrics.RecordError("process")
		return nil, fmt.Errorf("process bar: %w", err)
	}
	s.metrics.RecordLatency("process", time.Since(start).Seconds())
	s.metrics.RecordBarProcessed(fv.Symbol, string(fv.Timeframe))
	if out.IsOOD {
		s.metrics.RecordOOD(fv.Symbol, string(fv.Timeframe))
		s.logger.Warn("out-of-distribution bar",
			applogger.String("symbol", fv.Symbol),
			applogger.String("tf", string(fv.Timeframe)),
			applogger.Float64("log_likelihood", out.LogLikelihood),
		)
	} else {
		s.metrics.RecordCurrentState(fv.Symbol, string(fv.Timeframe), out.StateID)
	}

	s.fanOut(ctx, out)
	return out, nil
}

func (s *RegimeService) fanOut(ctx context.Context, out *models.HMMOutput) {
	if s.outputs != nil {
		if err := s.outputs.Store(ctx, out); err != nil {
			s.metrics.RecordError("output_store")
			s.logger.Error("store output failed", applogger.Error(err),
				applogger.String("symbol", out.Symbol))
		}
	}
	if s.pub != nil {
		if err := s.pub.Publish(ctx, out); err != nil {
			s.metrics.RecordError("output_publish")
			s.logger.Error("publish output failed", applogger.Error(err),
				applogger.String("symbol", out.Symbol))
		}
	}
	if s.stateCache != nil {
		ttl := s.stateTTL(out.Symbol, out.Timeframe)
		if err := s.stateCache.SetLatest(ctx, out, ttl); err != nil {
			s.metrics.RecordError("state_cache")
			s.logger.Error("cache state failed", applogger.Error(err),
				applogger.String("symbol", out.Symbol))
		}
	}
}

func (s *RegimeService) stateTTL(symbol string, tf models.Timeframe) time.Duration {
	if b, ok := s.bundles[symbol][tf]; ok {
		return b.Meta.StateTTL()
	}
	return tf.BarDuration()
}

// Current returns the confirmed state for a pair if it is still within its
// TTL. Falls back to the shared state cache so reads survive process
// restarts.
func (s *RegimeService) Current(ctx context.Context, symbol string, tf models.Timeframe) (*models.HMMOutput, error) {
	coord, err := s.coordinator(symbol)
	if err != nil {
		return nil, err
	}
	if out, ok := coord.Current(tf, s.now()); ok {
		return out, nil
	}
	if s.stateCache != nil {
		if out, err := s.stateCache.GetLatest(ctx, symbol, tf); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no current state for %s/%s", symbol, tf)
}

// AllCurrent returns the still-fresh states across the symbol's timeframes.
func (s *RegimeService) AllCurrent(ctx context.Context, symbol string) (map[models.Timeframe]*models.HMMOutput, error) {
	coord, err := s.coordinator(symbol)
	if err != nil {
		return nil, err
	}
	return coord.AllCurrent(s.now()), nil
}

// History returns persisted outputs for a pair, newest first.
func (s *RegimeService) History(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.HMMOutput, error) {
	if s.outputs == nil {
		return nil, fmt.Errorf("output storage not configured")
	}
	return s.outputs.Query(ctx, symbol, tf, from, to, limit)
}

// Infer runs a single feature map through a throwaway engine and returns
// the raw posterior without touching live hysteresis state. Diagnostic use
// only; the output never reaches storage or downstream consumers.
func (s *RegimeService) Infer(ctx context.Context, symbol string, tf models.Timeframe, features map[string]float64, ts time.Time) (*models.HMMOutput, *models.LatentVector, error) {
	b, err := s.bundle(symbol, tf)
	if err != nil {
		return nil, nil, err
	}
	engine, err := b.Engine(s.engineOpts...)
	if err != nil {
		return nil, nil, err
	}
	z, err := engine.Latent(features, symbol, ts)
	if err != nil {
		return nil, nil, err
	}
	out, err := engine.Process(features, symbol, ts)
	if err != nil {
		return nil, nil, err
	}
	return out, z, nil
}

// Backfill replays persisted feature bars through a disposable engine and
// stores the outputs in one batch. Live hysteresis state is untouched.
func (s *RegimeService) Backfill(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) (int, error) {
	if s.features == nil {
		return 0, fmt.Errorf("feature storage not configured")
	}
	b, err := s.bundle(symbol, tf)
	if err != nil {
		return 0, err
	}

	bars, err := s.features.GetRange(ctx, symbol, tf, from, to)
	if err != nil {
		return 0, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	engine, err := b.Engine(s.engineOpts...)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	outs, err := engine.ProcessBatch(bars)
	if err != nil {
		s.metrics.RecordError("backfill")
		return 0, fmt.Errorf("replay bars: %w", err)
	}
	if err := s.outputs.StoreBatch(ctx, outs); err != nil {
		s.metrics.RecordError("backfill_store")
		return 0, fmt.Errorf("store backfill outputs: %w", err)
	}
	s.metrics.RecordLatency("backfill", time.Since(start).Seconds())
	s.logger.Info("backfill complete",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("bars", len(outs)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return len(outs), nil
}

// ResetAll clears live hysteresis state for one symbol.
func (s *RegimeService) ResetAll(symbol string) error {
	coord, err := s.coordinator(symbol)
	if err != nil {
		return err
	}
	coord.ResetAll()
	s.logger.Info("coordinator reset", applogger.String("symbol", symbol))
	return nil
}
