package usecase

import (
	"context"
	"fmt"
	"time"

	"RegimePulse/internal/domain/models"
	applogger "RegimePulse/pkg/logger"
	"RegimePulse/pkg/queue"
)

// BackfillPayload describes one backfill request.
type BackfillPayload struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// BackfillJob replays a historical bar range through a disposable engine.
// Runs on the redis queue workers so API requests return immediately.
type BackfillJob struct {
	svc    *RegimeService
	logger *applogger.Logger
}

func NewBackfillJob(svc *RegimeService, lgr *applogger.Logger) *BackfillJob {
	return &BackfillJob{svc: svc, logger: lgr}
}

func (j *BackfillJob) Name() string { return "regime_backfill" }
func (j *BackfillJob) Type() string { return "regime.backfill" }

func (j *BackfillJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[BackfillPayload](payload)
	if err != nil {
		return fmt.Errorf("backfill payload: %w", err)
	}
	tf, err := models.ParseTimeframe(p.Timeframe)
	if err != nil {
		return fmt.Errorf("backfill payload: %w", err)
	}
	if !p.To.After(p.From) {
		return fmt.Errorf("backfill range invalid: from=%s to=%s", p.From, p.To)
	}

	n, err := j.svc.Backfill(ctx, p.Symbol, tf, p.From, p.To)
	if err != nil {
		j.logger.Error("backfill job failed",
			applogger.String("symbol", p.Symbol),
			applogger.String("tf", p.Timeframe),
			applogger.Error(err),
		)
		return err
	}
	j.logger.Info("backfill job done",
		applogger.String("symbol", p.Symbol),
		applogger.String("tf", p.Timeframe),
		applogger.Int("bars", n),
	)
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)
