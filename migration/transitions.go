package migration

import (
	"fmt"
	"strconv"
)

// transitions is the complete table of legal status changes. A status not
// present as a key has no outgoing transitions
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled},
	StatusSyncing:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusSyncing},
	StatusFailed:    {StatusPending, StatusCancelled},
	StatusCancelled: {StatusPending},
}

// ValidateTransition errors with ErrInvalidTransition unless moving a job
// from `from` to `to` is in the transition table. Transitions are a total
// function of the current status: no history beyond `from` is consulted
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	for _, legal := range transitions[from] {
		if to == legal {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Transitions lists the statuses a job in `from` may legally move to
func Transitions(from Status) []Status {
	res := make([]Status, len(transitions[from]))
	copy(res, transitions[from])
	return res
}

// RevisionAdvances reports whether moving lastSyncedRevision from prev to
// next preserves monotonicity. Revision markers are opaque, but the common
// case is a numeric sequence, which we can order. Markers that don't parse
// as numbers can't be ordered here & are accepted, leaving ordering to the
// execution capability that produced them
func RevisionAdvances(prev, next string) bool {
	if prev == "" || prev == next {
		return true
	}
	if next == "" {
		return false
	}
	p, perr := strconv.ParseUint(prev, 10, 64)
	n, nerr := strconv.ParseUint(next, 10, 64)
	if perr != nil || nerr != nil {
		return true
	}
	return n > p
}
