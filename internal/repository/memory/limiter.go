package memory

import (
	"context"
	"time"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/limiter"
	"github.com/and161185/emol/internal/model"
)

// Limiter keeps PIN counters on the stored combatants, like the postgres limiter.
type Limiter struct {
	s      *Store
	policy limiter.Policy
	clk    clock.Clock
}

var _ limiter.Limiter = (*Limiter)(nil)

// NewLimiter returns a limiter over the store's combatants.
func NewLimiter(s *Store, policy limiter.Policy, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Limiter{s: s, policy: policy, clk: clk}
}

func (l *Limiter) Allow(_ context.Context, combatantID int64) (bool, time.Duration, error) {
	var (
		ok   bool
		wait time.Duration
	)
	err := l.s.with(func(st *state) error {
		c, found := st.combatants[combatantID]
		if !found {
			return errs.ErrNotFound
		}
		now := l.clk.Now()
		if c.IsLockedOut(now) {
			wait = c.PINLockedUntil.Sub(now)
			return nil
		}
		ok = true
		return nil
	})
	return ok, wait, err
}

func (l *Limiter) Success(_ context.Context, combatantID int64) error {
	return l.s.with(func(st *state) error {
		c, found := st.combatants[combatantID]
		if !found {
			return errs.ErrNotFound
		}
		c.PINFailedAttempts, c.PINLockedUntil = 0, nil
		return nil
	})
}

func (l *Limiter) Failure(_ context.Context, combatantID int64) (bool, time.Duration, error) {
	var locked bool
	err := l.s.with(func(st *state) error {
		c, found := st.combatants[combatantID]
		if !found {
			return errs.ErrNotFound
		}
		now := l.clk.Now()
		if c.IsLockedOut(now) {
			return errs.ErrLocked
		}
		fails := c.PINFailedAttempts + 1
		if lapsed(c, now) {
			fails = 1
		}
		c.PINFailedAttempts = fails
		c.PINLockedUntil = nil
		if fails >= l.policy.MaxAttempts {
			until := now.Add(l.policy.Lockout)
			c.PINLockedUntil = &until
			locked = true
		}
		return nil
	})
	if err != nil || !locked {
		return false, 0, err
	}
	return true, l.policy.Lockout, nil
}

func lapsed(c *model.Combatant, now time.Time) bool {
	return c.PINLockedUntil != nil && !now.Before(*c.PINLockedUntil)
}
