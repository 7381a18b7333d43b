package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"RegimePulse/internal/domain/models"
	domrepo "RegimePulse/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, fv *models.FeatureVector) (*models.HMMOutput, error)
}

// RealtimePipeline sits between the feature stream and the inference
// service. It validates, throttles per stream, and buffers bars when the
// downstream is temporarily failing.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.FeatureVector
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per (symbol, timeframe) last accepted time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max bars per second per stream.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		bufCh:    make(chan *models.FeatureVector, 1000),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.FeatureVector, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered bars.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case fv := <-p.bufCh:
				if fv == nil {
					continue
				}
				if _, err := p.proc.Process(ctx, fv); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- fv:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards a bar downstream, buffering on
// errors.
func (p *RealtimePipeline) Process(ctx context.Context, fv *models.FeatureVector) error {
	start := time.Now()
	if err := validateBar(fv); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(streamKey(fv), start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if _, err := p.proc.Process(ctx, fv); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- fv:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func streamKey(fv *models.FeatureVector) string {
	return fv.Symbol + "|" + string(fv.Timeframe)
}

func validateBar(fv *models.FeatureVector) error {
	if fv == nil {
		return fmt.Errorf("bar nil")
	}
	if fv.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if !models.IsValidTimeframe(fv.Timeframe) {
		return fmt.Errorf("timeframe invalid: %s", fv.Timeframe)
	}
	if fv.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if len(fv.Features) == 0 {
		return fmt.Errorf("features empty")
	}
	return nil
}

func (p *RealtimePipeline) allow(key string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[key]
	if last.IsZero() {
		p.lastSeen[key] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[key] = now
	return true
}
