package progress

import (
	"testing"
	"time"
)

func TestEstimatorPercent(t *testing.T) {
	e := NewEstimator(0)

	cases := []struct {
		done, total int
		expect      int
	}{
		{0, 100, 0},
		{1, 100, 1},
		{40, 100, 40},
		{50, 100, 50},
		{100, 100, 100},
		{120, 100, 100}, // clamp
	}
	for _, c := range cases {
		if got := e.Update(c.done, c.total); got.Percent != c.expect {
			t.Errorf("Update(%d, %d): expected %d%%, got %d%%", c.done, c.total, c.expect, got.Percent)
		}
	}
}

func TestEstimatorProvisionalTotal(t *testing.T) {
	e := NewEstimator(100)

	snap := e.Update(40, 0)
	if snap.Percent != 40 {
		t.Errorf("expected 40%% against the provisional total, got: %d%%", snap.Percent)
	}
	if !snap.Estimated {
		t.Error("reports against a provisional total must be flagged estimated")
	}

	// the precise total arrives: 50 units, not 100
	snap = e.Update(40, 50)
	if snap.Percent < 80 {
		t.Errorf("corrected total must report >= 80%%, got: %d%%", snap.Percent)
	}
	if snap.Estimated {
		t.Error("a precise total ends estimation")
	}

	// the report never moves backward after the correction
	low := snap.Percent
	snap = e.Update(40, 50)
	if snap.Percent < low {
		t.Errorf("percent regressed from %d%% to %d%%", low, snap.Percent)
	}
}

func TestEstimatorMonotonic(t *testing.T) {
	e := NewEstimator(1000)

	last := -1
	steps := []struct{ done, total int }{
		{10, 0}, {100, 0}, {100, 400}, {150, 400}, {150, 300}, {300, 300},
	}
	for _, s := range steps {
		snap := e.Update(s.done, s.total)
		if snap.Percent < last {
			t.Errorf("Update(%d, %d): percent regressed from %d%% to %d%%", s.done, s.total, last, snap.Percent)
		}
		last = snap.Percent
	}
	if last != 100 {
		t.Errorf("expected to end at 100%%, got: %d%%", last)
	}
}

func TestETA(t *testing.T) {
	defer func() { NowFunc = time.Now }()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return start }
	e := NewEstimator(0)

	// 25 of 100 units in one minute: 3 minutes left
	NowFunc = func() time.Time { return start.Add(time.Minute) }
	snap := e.Update(25, 100)
	if snap.Remaining != 3*time.Minute {
		t.Errorf("expected 3m remaining, got: %s", snap.Remaining)
	}

	// zero units done: divisor floors at 1
	e2 := NewEstimator(0)
	snap = e2.Update(0, 10)
	if snap.Remaining < 0 {
		t.Errorf("a known total should yield an ETA, got: %s", snap.Remaining)
	}

	// unknown total: no ETA
	e3 := NewEstimator(0)
	snap = e3.Update(10, 0)
	if snap.Remaining >= 0 {
		t.Errorf("unknown totals have no ETA, got: %s", snap.Remaining)
	}
}
