package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"RegimePulse/internal/domain/models"
	"RegimePulse/internal/domain/repository"
	pkgch "RegimePulse/pkg/clickhouse"
)

const regimeOutputsTable = "regimepulse.regime_outputs"

// CHOutputStore implements OutputStore for ClickHouse.
type CHOutputStore struct {
	db *sql.DB
}

// NewCHOutputStore creates ClickHouse-backed output storage.
func NewCHOutputStore(ch *pkgch.Client) repository.OutputStore {
	return &CHOutputStore{db: ch.DB()}
}

func (s *CHOutputStore) Store(ctx context.Context, o *models.HMMOutput) error {
	const q = `
        INSERT INTO ` + regimeOutputsTable + `
        (ts, symbol, timeframe, model_id, state_id, state_prob, posterior, log_likelihood, is_ood)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := s.db.ExecContext(ctx, q, outputArgs(o)...)
	if err != nil {
		return fmt.Errorf("store output: %w", err)
	}
	return nil
}

func (s *CHOutputStore) StoreBatch(ctx context.Context, outputs []*models.HMMOutput) error {
	if len(outputs) == 0 {
		return nil
	}
	// Multi-row VALUES to keep round-trips down on backfills.
	const chunkSize = 2000
	for start := 0; start < len(outputs); start += chunkSize {
		end := start + chunkSize
		if end > len(outputs) {
			end = len(outputs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, o := range outputs[start:end] {
			if o == nil || o.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, outputArgs(o)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf(`
            INSERT INTO %s
            (ts, symbol, timeframe, model_id, state_id, state_prob, posterior, log_likelihood, is_ood)
            VALUES %s`, regimeOutputsTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store output batch: %w", err)
		}
	}
	return nil
}

func (s *CHOutputStore) Query(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.HMMOutput, error) {
	const q = `
        SELECT ts, symbol, timeframe, model_id, state_id, state_prob, posterior, log_likelihood, is_ood
        FROM ` + regimeOutputsTable + `
        WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var outputs []*models.HMMOutput
	for rows.Next() {
		var (
			ts        time.Time
			sym       string
			tfs       string
			modelID   string
			stateID   int32
			stateProb float64
			posterior []float64
			logLik    float64
			isOOD     uint8
		)
		if err := rows.Scan(&ts, &sym, &tfs, &modelID, &stateID, &stateProb, &posterior, &logLik, &isOOD); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		o, err := models.NewHMMOutput(sym, ts, models.Timeframe(tfs), modelID, int(stateID), stateProb, posterior, logLik, isOOD != 0, nil)
		if err != nil {
			return nil, fmt.Errorf("output %s@%s: %w", sym, ts, err)
		}
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

func (s *CHOutputStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func outputArgs(o *models.HMMOutput) []interface{} {
	isOOD := uint8(0)
	if o.IsOOD {
		isOOD = 1
	}
	return []interface{}{
		o.Timestamp,
		o.Symbol,
		string(o.Timeframe),
		o.ModelID,
		int32(o.StateID),
		o.StateProb,
		o.Posterior,
		o.LogLikelihood,
		isOOD,
	}
}
