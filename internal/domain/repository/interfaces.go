package repository

import (
	"context"
	"time"

	"RegimePulse/internal/domain/models"
)

// FeatureStream delivers live feature bars from an upstream feature service.
type FeatureStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.FeatureVector, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// OutputStore persists regime inference outputs.
type OutputStore interface {
	Store(ctx context.Context, o *models.HMMOutput) error
	StoreBatch(ctx context.Context, outputs []*models.HMMOutput) error
	Query(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.HMMOutput, error)
	Health(ctx context.Context) error
}

// FeatureStore persists incoming feature bars so backfills can replay them.
type FeatureStore interface {
	Store(ctx context.Context, f *models.FeatureVector) error
	GetRange(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]*models.FeatureVector, error)
	GetLatestN(ctx context.Context, symbol string, tf models.Timeframe, n int) ([]*models.FeatureVector, error)
}

// Publisher fans accepted outputs out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, o *models.HMMOutput) error
	Close() error
}

// StateCache keeps the latest output per (symbol, timeframe) with a TTL so
// API reads survive restarts of the in-process coordinator.
type StateCache interface {
	SetLatest(ctx context.Context, o *models.HMMOutput, ttl time.Duration) error
	GetLatest(ctx context.Context, symbol string, tf models.Timeframe) (*models.HMMOutput, error)
}

// Metrics records operational measurements.
type Metrics interface {
	RecordBarProcessed(symbol, timeframe string)
	RecordOOD(symbol, timeframe string)
	RecordDecision(decision string)
	RecordCurrentState(symbol, timeframe string, stateID int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
