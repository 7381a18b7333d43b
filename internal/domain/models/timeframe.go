package models

import (
	"fmt"
	"time"
)

// Timeframe represents a bar resolution for regime models.
type Timeframe string

const (
	TF1Min  Timeframe = "1Min"
	TF5Min  Timeframe = "5Min"
	TF15Min Timeframe = "15Min"
	TF1Hour Timeframe = "1Hour"
	TF1Day  Timeframe = "1Day"
)

// Timeframes lists all supported timeframes in ascending bar duration.
func Timeframes() []Timeframe {
	return []Timeframe{TF1Min, TF5Min, TF15Min, TF1Hour, TF1Day}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1Min, TF5Min, TF15Min, TF1Hour, TF1Day:
		return true
	default:
		return false
	}
}

// ParseTimeframe converts a raw string to a Timeframe or fails.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", fmt.Errorf("invalid timeframe %q (valid: %v)", s, Timeframes())
	}
	return tf, nil
}

// BarDuration returns the wall-clock duration of one bar.
// An unrecognized timeframe yields the shortest duration (1 minute), so a
// stale state can only expire sooner than intended, never later.
func (tf Timeframe) BarDuration() time.Duration {
	switch tf {
	case TF1Min:
		return time.Minute
	case TF5Min:
		return 5 * time.Minute
	case TF15Min:
		return 15 * time.Minute
	case TF1Hour:
		return time.Hour
	case TF1Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
