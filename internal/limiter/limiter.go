// Package limiter counts failed PIN attempts per combatant and applies temporary lockouts.
package limiter

import (
	"context"
	"time"
)

// Limiter controls PIN attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a PIN check is currently allowed and the remaining lockout.
	Allow(ctx context.Context, combatantID int64) (bool, time.Duration, error)
	// Success resets the failure counter and lockout.
	Success(ctx context.Context, combatantID int64) error
	// Failure records a failed attempt; it reports true and the lockout length only for the attempt that
	// locks the combatant. A miss against a combatant that is already locked is not counted and returns errs.ErrLocked.
	Failure(ctx context.Context, combatantID int64) (bool, time.Duration, error)
}

// Policy is the lockout policy.
type Policy struct {
	MaxAttempts int
	Lockout     time.Duration
}

// DefaultPolicy locks for 15 minutes after 5 misses.
var DefaultPolicy = Policy{MaxAttempts: 5, Lockout: 15 * time.Minute}
