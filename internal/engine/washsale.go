package engine

import (
	"time"
)

// CooldownLog is the slice of the state store the wash-sale check needs.
// *state.Store satisfies it.
type CooldownLog interface {
	LossDate(ticker string) (time.Time, bool)
	ClearLoss(ticker string) error
}

// CooldownStatus reports the outcome of a wash-sale check.
type CooldownStatus struct {
	Blocked       bool
	DaysRemaining int
	// Expired is set when this check found a stale entry and removed it.
	Expired bool
}

// CheckCooldown reports whether a ticker is inside its wash-sale window.
//
// A stale entry (whole days elapsed >= cooldownDays, boundary inclusive) is
// removed and persisted on the spot, so the caller may trade the ticker in the
// same pass. Days are whole calendar days truncated toward zero; a negative
// count (clock rollback) keeps the ticker blocked rather than expiring early.
//
// The returned error is only ever a persistence failure from removing an
// expired entry. The entry is already gone from memory at that point, so the
// ticker is tradable either way; callers log the error and move on.
func CheckCooldown(log CooldownLog, ticker string, cooldownDays int, today time.Time) (CooldownStatus, error) {
	lossDate, ok := log.LossDate(ticker)
	if !ok {
		return CooldownStatus{}, nil
	}

	daysPassed := int(today.Sub(lossDate).Hours() / 24)
	if daysPassed < cooldownDays {
		remaining := cooldownDays - daysPassed
		return CooldownStatus{Blocked: true, DaysRemaining: remaining}, nil
	}

	err := log.ClearLoss(ticker)
	return CooldownStatus{Expired: true}, err
}
