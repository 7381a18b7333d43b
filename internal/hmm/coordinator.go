package hmm

import (
	"fmt"
	"sync"
	"time"

	"RegimePulse/internal/domain/models"
)

// Coordinator fans one symbol's bars out to per-timeframe engines and
// answers freshness-checked state queries. Safe for concurrent use.
type Coordinator struct {
	mu       sync.RWMutex
	engines  map[models.Timeframe]*Engine
	latest   map[models.Timeframe]*models.HMMOutput
	latestAt map[models.Timeframe]time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		engines:  make(map[models.Timeframe]*Engine),
		latest:   make(map[models.Timeframe]*models.HMMOutput),
		latestAt: make(map[models.Timeframe]time.Time),
	}
}

// Register installs an engine for its metadata timeframe, replacing any
// previous registration for that timeframe. The key is taken from the
// engine's own metadata, so a caller cannot register an engine under the
// wrong timeframe.
func (c *Coordinator) Register(e *Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tf := e.Metadata().Timeframe
	c.engines[tf] = e
	delete(c.latest, tf)
	delete(c.latestAt, tf)
}

// Timeframes lists the registered timeframes.
func (c *Coordinator) Timeframes() []models.Timeframe {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tfs := make([]models.Timeframe, 0, len(c.engines))
	for _, tf := range models.Timeframes() {
		if _, ok := c.engines[tf]; ok {
			tfs = append(tfs, tf)
		}
	}
	return tfs
}

// Process routes a bar to the engine for its timeframe and records the
// output for later Current queries.
func (c *Coordinator) Process(tf models.Timeframe, features map[string]float64, symbol string, ts time.Time) (*models.HMMOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.engines[tf]
	if !ok {
		return nil, fmt.Errorf("no engine registered for timeframe %s", tf)
	}
	out, err := e.Process(features, symbol, ts)
	if err != nil {
		return nil, err
	}
	c.latest[tf] = out
	c.latestAt[tf] = ts
	return out, nil
}

// Current returns the most recent output for a timeframe if it is still
// within the model's TTL at the given clock. A state exactly at its TTL
// boundary is still current; one bar of staleness beyond it is not.
func (c *Coordinator) Current(tf models.Timeframe, now time.Time) (*models.HMMOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked(tf, now)
}

func (c *Coordinator) currentLocked(tf models.Timeframe, now time.Time) (*models.HMMOutput, bool) {
	out, ok := c.latest[tf]
	if !ok {
		return nil, false
	}
	e := c.engines[tf]
	if now.Sub(c.latestAt[tf]) > e.Metadata().StateTTL() {
		return nil, false
	}
	return out, true
}

// AllCurrent returns the still-fresh outputs across every registered
// timeframe. Expired and never-processed timeframes are absent.
func (c *Coordinator) AllCurrent(now time.Time) map[models.Timeframe]*models.HMMOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make(map[models.Timeframe]*models.HMMOutput, len(c.engines))
	for tf := range c.engines {
		if out, ok := c.currentLocked(tf, now); ok {
			res[tf] = out
		}
	}
	return res
}

// ResetAll clears hysteresis state and cached outputs on every engine.
func (c *Coordinator) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tf, e := range c.engines {
		e.Reset()
		delete(c.latest, tf)
		delete(c.latestAt, tf)
	}
}
