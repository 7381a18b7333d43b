package usecase

import (
	"context"

	"RegimePulse/internal/domain/models"
	drepo "RegimePulse/internal/domain/repository"
	mid "RegimePulse/internal/middleware"
)

// BarCollector collects feature bars from the live stream and routes them
// through the realtime pipeline into the inference service.
type BarCollector struct {
	stream  drepo.FeatureStream
	svc     *RegimeService
	metrics drepo.Metrics
	pipe    *mid.RealtimePipeline
}

// NewBarCollector creates a new BarCollector instance.
func NewBarCollector(stream drepo.FeatureStream, svc *RegimeService, metrics drepo.Metrics, pipe *mid.RealtimePipeline) *BarCollector {
	return &BarCollector{stream: stream, svc: svc, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the feature stream is connected.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	barCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, barCh, errCh)
	return nil
}

func (c *BarCollector) consume(ctx context.Context, barCh <-chan *models.FeatureVector, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case fv := <-barCh:
			if fv == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, fv)
			} else {
				_, _ = c.svc.Process(ctx, fv)
			}
		}
	}
}

// Shutdown stops the pipeline and closes the stream.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
