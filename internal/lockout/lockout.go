package lockout

import (
	"time"

	"github.com/khanghh/kgate/params"
)

// Policy locks an account for Duration after Threshold consecutive failures.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

type Decision struct {
	Locked                      bool
	LockedUntil                 *time.Time
	RemainingFailuresBeforeLock int
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold: params.LockoutThreshold,
		Duration:  params.LockoutDuration,
	}
}

func isLocked(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// lockExpired reports a lock that was set and has since lapsed. The failure
// counter is considered stale from that point.
func lockExpired(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && !lockedUntil.After(now)
}

// Decide evaluates the stored lockout state at now. Expiry is derived from
// lockedUntil, no background job clears it.
func (p Policy) Decide(failedAttempts int, lockedUntil *time.Time, now time.Time) Decision {
	if isLocked(lockedUntil, now) {
		until := *lockedUntil
		return Decision{Locked: true, LockedUntil: &until}
	}
	if lockExpired(lockedUntil, now) {
		failedAttempts = 0
	}
	return Decision{RemainingFailuresBeforeLock: max(p.Threshold-failedAttempts, 0)}
}

// RegisterFailure returns the state after one more failed attempt. The lock
// starts at the failure that reaches the threshold.
func (p Policy) RegisterFailure(failedAttempts int, lockedUntil *time.Time, now time.Time) (int, *time.Time) {
	if isLocked(lockedUntil, now) {
		return failedAttempts, lockedUntil
	}
	if lockExpired(lockedUntil, now) {
		failedAttempts = 0
	}
	failedAttempts++
	if failedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		return failedAttempts, &until
	}
	return failedAttempts, nil
}
