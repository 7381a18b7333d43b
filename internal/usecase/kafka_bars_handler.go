package usecase

import (
	"context"
	"encoding/json"
	"time"

	"RegimePulse/internal/domain/models"
	domrepo "RegimePulse/internal/domain/repository"
	pkgkafka "RegimePulse/pkg/kafka"
)

// KafkaBarsHandler consumes feature bars from Kafka and feeds the inference
// service. Bars are also persisted so backfills can replay them.
type KafkaBarsHandler struct {
	topic    string
	svc      *RegimeService
	features domrepo.FeatureStore
	metrics  domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, svc *RegimeService, features domrepo.FeatureStore, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, svc: svc, features: features, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, timeframe, t, features, has_gap}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol    string             `json:"symbol"`
		Timeframe string             `json:"timeframe"`
		T         int64              `json:"t"`
		Features  map[string]float64 `json:"features"`
		HasGap    bool               `json:"has_gap"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(m.T, 0)).Seconds())

	tf, err := models.ParseTimeframe(m.Timeframe)
	if err != nil {
		h.metrics.RecordError("consumer_timeframe")
		return err
	}
	fv, err := models.NewFeatureVector(m.Symbol, time.Unix(m.T, 0).UTC(), tf, m.Features, m.HasGap)
	if err != nil {
		h.metrics.RecordError("consumer_bar")
		return err
	}

	if h.features != nil {
		start := time.Now()
		if err := h.features.Store(ctx, fv); err != nil {
			h.metrics.RecordError("consumer_feature_store")
			return err
		}
		h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	}

	if _, err := h.svc.Process(ctx, fv); err != nil {
		h.metrics.RecordError("consumer_process")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
