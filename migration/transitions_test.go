package migration

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	legal := []struct {
		from, to Status
	}{
		{StatusPending, StatusRunning},
		{StatusPending, StatusCancelled},
		{StatusRunning, StatusPaused},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusPaused, StatusRunning},
		{StatusPaused, StatusCancelled},
		{StatusSyncing, StatusCompleted},
		{StatusSyncing, StatusFailed},
		{StatusCompleted, StatusSyncing},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusCancelled},
		{StatusCancelled, StatusPending},
	}
	for _, c := range legal {
		if err := ValidateTransition(c.from, c.to); err != nil {
			t.Errorf("%s -> %s should be legal, got: %v", c.from, c.to, err)
		}
	}

	illegal := []struct {
		from, to Status
	}{
		{StatusPending, StatusPaused},
		{StatusPending, StatusCompleted},
		{StatusPending, StatusSyncing},
		{StatusRunning, StatusSyncing},
		{StatusRunning, StatusPending},
		{StatusPaused, StatusCompleted},
		{StatusPaused, StatusFailed},
		{StatusSyncing, StatusCancelled},
		{StatusSyncing, StatusPaused},
		{StatusCompleted, StatusRunning},
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusPending},
		{StatusFailed, StatusRunning},
		{StatusCancelled, StatusCancelled},
		{Status("bogus"), StatusRunning},
		{StatusPending, Status("bogus")},
	}
	for _, c := range illegal {
		if err := ValidateTransition(c.from, c.to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s should be rejected with ErrInvalidTransition, got: %v", c.from, c.to, err)
		}
	}
}

// every status a job walks through must come from the fixed set, and every
// step must be a row in the table. exercise the canonical retry walk
func TestTransitionWalk(t *testing.T) {
	walk := []Status{
		StatusPending,
		StatusRunning,
		StatusPaused,
		StatusRunning,
		StatusFailed,
		StatusPending,
		StatusRunning,
		StatusCompleted,
		StatusSyncing,
		StatusCompleted,
	}
	for i := 1; i < len(walk); i++ {
		if !walk[i].Valid() {
			t.Fatalf("status %q not in the fixed status set", walk[i])
		}
		if err := ValidateTransition(walk[i-1], walk[i]); err != nil {
			t.Errorf("walk step %d: %v", i, err)
		}
	}
}

func TestRevisionAdvances(t *testing.T) {
	cases := []struct {
		prev, next string
		expect     bool
	}{
		{"", "1", true},
		{"1", "1", true},
		{"1", "2", true},
		{"9", "10", true},
		{"10", "9", false},
		{"204", "117", false},
		{"204", "", false},
		// non-numeric markers can't be ordered here
		{"abc123", "def456", true},
	}
	for _, c := range cases {
		if got := RevisionAdvances(c.prev, c.next); got != c.expect {
			t.Errorf("RevisionAdvances(%q, %q): expected %t, got %t", c.prev, c.next, c.expect, got)
		}
	}
}
