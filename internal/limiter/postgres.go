package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
)

// PG keeps PIN counters on the combatants row. Every transition is a single statement.
type PG struct {
	pool   pgxQuerier
	policy Policy
	clk    clock.Clock
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, policy Policy, clk clock.Clock) *PG {
	return NewPGWithQuerier(pool, policy, clk)
}

// NewPGWithQuerier constructs a PostgreSQL-backed limiter over any querier.
func NewPGWithQuerier(q pgxQuerier, policy Policy, clk clock.Clock) *PG {
	if clk == nil {
		clk = clock.System{}
	}
	return &PG{pool: q, policy: policy, clk: clk}
}

// Allow reports whether the combatant is outside any lockout.
func (l *PG) Allow(ctx context.Context, combatantID int64) (bool, time.Duration, error) {
	const q = `SELECT pin_locked_until FROM combatants WHERE id=$1`
	var lockedUntil *time.Time
	err := l.pool.QueryRow(ctx, q, combatantID).Scan(&lockedUntil)
	switch {
	case err == nil:
		now := l.clk.Now()
		if lockedUntil != nil && lockedUntil.After(now) {
			return false, lockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, 0, errs.ErrNotFound
	default:
		return false, 0, err
	}
}

// Success resets counters for the combatant.
func (l *PG) Success(ctx context.Context, combatantID int64) error {
	const q = `UPDATE combatants SET pin_failed_attempts=0, pin_locked_until=NULL WHERE id=$1`
	tag, err := l.pool.Exec(ctx, q, combatantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Failure increments the counter; a lapsed lockout restarts counting at one.
// The miss that reaches MaxAttempts sets pin_locked_until. Rows under an active
// lockout are left alone, so concurrent misses lock the combatant exactly once.
func (l *PG) Failure(ctx context.Context, combatantID int64) (bool, time.Duration, error) {
	now := l.clk.Now()
	until := now.Add(l.policy.Lockout)

	const q = `
UPDATE combatants SET
  pin_failed_attempts = CASE WHEN pin_locked_until <= $2::timestamptz THEN 1 ELSE pin_failed_attempts + 1 END,
  pin_locked_until = CASE
    WHEN (CASE WHEN pin_locked_until <= $2::timestamptz THEN 1 ELSE pin_failed_attempts + 1 END) >= $3 THEN $4::timestamptz
    ELSE NULL END
WHERE id=$1 AND (pin_locked_until IS NULL OR pin_locked_until <= $2::timestamptz)
RETURNING pin_failed_attempts`
	var fails int
	err := l.pool.QueryRow(ctx, q, combatantID, now, l.policy.MaxAttempts, until).Scan(&fails)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		// missing, or locked by a concurrent miss
		ok, _, aerr := l.Allow(ctx, combatantID)
		if aerr != nil {
			return false, 0, aerr
		}
		if !ok {
			return false, 0, errs.ErrLocked
		}
		return false, 0, errs.ErrNotFound
	default:
		return false, 0, err
	}
	if fails >= l.policy.MaxAttempts {
		return true, l.policy.Lockout, nil
	}
	return false, 0, nil
}
