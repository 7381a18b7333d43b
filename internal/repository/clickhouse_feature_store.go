package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RegimePulse/internal/domain/models"
	pkgch "RegimePulse/pkg/clickhouse"
	applogger "RegimePulse/pkg/logger"
)

const featureBarsTable = "regimepulse.feature_bars"

// CHFeatureStore implements FeatureStore backed by ClickHouse. Feature maps
// are persisted as parallel name/value arrays so the schema survives feature
// set changes between model versions.
type CHFeatureStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHFeatureStore(ch *pkgch.Client) *CHFeatureStore {
	return &CHFeatureStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHFeatureStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHFeatureStore) Store(ctx context.Context, f *models.FeatureVector) error {
	names := make([]string, 0, len(f.Features))
	vals := make([]float64, 0, len(f.Features))
	for name, v := range f.Features {
		names = append(names, name)
		vals = append(vals, v)
	}
	hasGap := uint8(0)
	if f.HasGap {
		hasGap = 1
	}

	const q = `
        INSERT INTO ` + featureBarsTable + ` (ts, symbol, timeframe, names, vals, has_gap)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	if _, err := s.db.ExecContext(ctx, q, f.Timestamp, f.Symbol, string(f.Timeframe), names, vals, hasGap); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_feature_bar error",
				applogger.String("symbol", f.Symbol),
				applogger.String("tf", string(f.Timeframe)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store feature bar: %w", err)
	}
	return nil
}

func (s *CHFeatureStore) GetRange(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]*models.FeatureVector, error) {
	start := time.Now()
	const q = `
        SELECT ts, symbol, timeframe, names, vals, has_gap
        FROM ` + featureBarsTable + `
        WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), from, to)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_range query error",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get feature range: %w", err)
	}
	defer rows.Close()

	out, err := s.scanBars(rows, symbol, tf)
	if err != nil {
		return nil, err
	}
	if s.l != nil {
		s.l.Info("clickhouse get_range ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHFeatureStore) GetLatestN(ctx context.Context, symbol string, tf models.Timeframe, n int) ([]*models.FeatureVector, error) {
	start := time.Now()
	const q = `
        SELECT ts, symbol, timeframe, names, vals, has_gap
        FROM ` + featureBarsTable + `
        WHERE symbol = ? AND timeframe = ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), n)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse latest_bars query error",
				applogger.String("symbol", symbol),
				applogger.String("tf", string(tf)),
				applogger.Int("limit", n),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get latest bars: %w", err)
	}
	defer rows.Close()

	tmp, err := s.scanBars(rows, symbol, tf)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	if s.l != nil {
		s.l.Info("clickhouse latest_bars ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("limit", n),
			applogger.Int("rows", len(tmp)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return tmp, nil
}

func (s *CHFeatureStore) scanBars(rows *sql.Rows, symbol string, tf models.Timeframe) ([]*models.FeatureVector, error) {
	out := make([]*models.FeatureVector, 0, 256)
	for rows.Next() {
		var (
			ts     time.Time
			sym    string
			tfs    string
			names  []string
			vals   []float64
			hasGap uint8
		)
		if err := rows.Scan(&ts, &sym, &tfs, &names, &vals, &hasGap); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse feature_bar scan error",
					applogger.String("symbol", symbol),
					applogger.String("tf", string(tf)),
					applogger.Error(err),
				)
			}
			return nil, fmt.Errorf("scan feature bar: %w", err)
		}
		if len(names) != len(vals) {
			return nil, fmt.Errorf("feature bar %s@%s: %d names vs %d values", sym, ts, len(names), len(vals))
		}
		features := make(map[string]float64, len(names))
		for i, name := range names {
			features[name] = vals[i]
		}
		fv, err := models.NewFeatureVector(sym, ts, models.Timeframe(tfs), features, hasGap != 0)
		if err != nil {
			return nil, fmt.Errorf("feature bar %s@%s: %w", sym, ts, err)
		}
		out = append(out, fv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
