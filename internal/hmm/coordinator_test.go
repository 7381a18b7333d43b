package hmm

import (
	"time"

	"testing"

	"RegimePulse/internal/domain/models"
)

func coordinatorEngine(t *testing.T, tf models.Timeframe, ttlBars int) *Engine {
	t.Helper()
	meta := scriptedMeta(2)
	meta.Timeframe = tf
	meta.StateTTLBars = ttlBars
	e, err := NewEngine(passthrough{dim: 3}, scriptedModel{nStates: 2}, meta)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestCoordinatorRoutesByTimeframe(t *testing.T) {
	c := NewCoordinator()
	c.Register(coordinatorEngine(t, models.TF1Min, 1))
	c.Register(coordinatorEngine(t, models.TF1Hour, 1))

	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	out, err := c.Process(models.TF1Min, bar2(0.9, -5), "AAPL", ts)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Timeframe != models.TF1Min || out.StateID != 1 {
		t.Fatalf("got tf=%s state=%d", out.Timeframe, out.StateID)
	}

	if _, err := c.Process(models.TF5Min, bar2(0.9, -5), "AAPL", ts); err == nil {
		t.Fatal("expected error for unregistered timeframe")
	}
}

func TestCoordinatorCurrentRespectsTTL(t *testing.T) {
	c := NewCoordinator()
	c.Register(coordinatorEngine(t, models.TF1Hour, 1))

	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	if _, err := c.Process(models.TF1Hour, bar2(0.1, -5), "AAPL", ts); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, ok := c.Current(models.TF1Hour, ts.Add(59*time.Minute)); !ok {
		t.Fatal("state inside TTL must be current")
	}
	if _, ok := c.Current(models.TF1Hour, ts.Add(60*time.Minute)); !ok {
		t.Fatal("state exactly at TTL boundary must still be current")
	}
	if _, ok := c.Current(models.TF1Hour, ts.Add(61*time.Minute)); ok {
		t.Fatal("state past TTL must be expired")
	}
}

func TestCoordinatorAllCurrentSkipsStale(t *testing.T) {
	c := NewCoordinator()
	c.Register(coordinatorEngine(t, models.TF1Min, 1))
	c.Register(coordinatorEngine(t, models.TF1Hour, 1))
	c.Register(coordinatorEngine(t, models.TF1Day, 1))

	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	for _, tf := range []models.Timeframe{models.TF1Min, models.TF1Hour} {
		if _, err := c.Process(tf, bar2(0.1, -5), "AAPL", ts); err != nil {
			t.Fatalf("Process %s: %v", tf, err)
		}
	}

	// 30 minutes on: 1Min is stale, 1Hour fresh, 1Day never processed.
	all := c.AllCurrent(ts.Add(30 * time.Minute))
	if len(all) != 1 {
		t.Fatalf("AllCurrent returned %d entries, want 1", len(all))
	}
	if _, ok := all[models.TF1Hour]; !ok {
		t.Fatal("1Hour state missing from AllCurrent")
	}
}

func TestCoordinatorResetAll(t *testing.T) {
	c := NewCoordinator()
	c.Register(coordinatorEngine(t, models.TF1Min, 1))

	ts := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	if _, err := c.Process(models.TF1Min, bar2(0.1, -5), "AAPL", ts); err != nil {
		t.Fatalf("Process: %v", err)
	}

	c.ResetAll()

	if _, ok := c.Current(models.TF1Min, ts); ok {
		t.Fatal("cached state must be dropped on reset")
	}
	// The next bar re-initializes rather than reinforcing the old state.
	out, err := c.Process(models.TF1Min, bar2(0.9, -5), "AAPL", ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.StateID != 1 {
		t.Fatalf("state after reset = %d, want 1", out.StateID)
	}
}

func TestCoordinatorTimeframesSorted(t *testing.T) {
	c := NewCoordinator()
	c.Register(coordinatorEngine(t, models.TF1Day, 1))
	c.Register(coordinatorEngine(t, models.TF1Min, 1))

	tfs := c.Timeframes()
	if len(tfs) != 2 || tfs[0] != models.TF1Min || tfs[1] != models.TF1Day {
		t.Fatalf("Timeframes() = %v", tfs)
	}
}
