package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

// Scheduler keeps an owner's reminder set in step with its expiration date.
// Its methods take the transaction-bound repositories so the rebuild commits or rolls back with the entity change.
type Scheduler struct {
	days []int
	log  *zap.Logger
}

// NewScheduler schedules one reminder per lead day in days (already normalized).
func NewScheduler(days []int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{days: append([]int(nil), days...), log: log}
}

// Days returns the configured lead days.
func (s *Scheduler) Days() []int { return append([]int(nil), s.days...) }

// OnIssueDateChanged replaces every reminder of o with a fresh plan.
func (s *Scheduler) OnIssueDateChanged(ctx context.Context, r repository.Repos, o expiry.Owner) error {
	ref := o.Ref()
	if err := r.Reminders.LockOwner(ctx, ref); err != nil {
		return fmt.Errorf("lock %s %d: %w", ref.Kind, ref.ID, err)
	}
	if _, err := r.Reminders.DeleteForOwner(ctx, ref); err != nil {
		return fmt.Errorf("clear reminders for %s %d: %w", ref.Kind, ref.ID, err)
	}
	for _, rem := range expiry.Plan(o, s.days) {
		if err := r.Reminders.Create(ctx, &rem); err != nil {
			return fmt.Errorf("schedule %d-day reminder for %s %d: %w", rem.DaysToExpiry, ref.Kind, ref.ID, err)
		}
	}
	s.log.Debug("reminders rebuilt",
		zap.String("kind", string(ref.Kind)),
		zap.Int64("owner_id", ref.ID),
		zap.Time("expires", o.ExpirationDate()),
	)
	return nil
}

// OnEntityDeleted removes the owner's reminders.
func (s *Scheduler) OnEntityDeleted(ctx context.Context, r repository.Repos, ref model.OwnerRef) error {
	if err := r.Reminders.LockOwner(ctx, ref); err != nil {
		return fmt.Errorf("lock %s %d: %w", ref.Kind, ref.ID, err)
	}
	n, err := r.Reminders.DeleteForOwner(ctx, ref)
	if err != nil {
		return fmt.Errorf("clear reminders for %s %d: %w", ref.Kind, ref.ID, err)
	}
	s.log.Debug("reminders removed", zap.String("kind", string(ref.Kind)), zap.Int64("owner_id", ref.ID), zap.Int64("count", n))
	return nil
}

// Rebuild runs OnIssueDateChanged in its own transaction.
func (s *Scheduler) Rebuild(ctx context.Context, store repository.Store, o expiry.Owner) error {
	return store.InTx(ctx, func(r repository.Repos) error {
		return s.OnIssueDateChanged(ctx, r, o)
	})
}

// deleteCombatant removes a combatant and the reminders of everything it owns.
func deleteCombatant(ctx context.Context, r repository.Repos, s *Scheduler, id int64) error {
	cards, err := r.Cards.ListByCombatant(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := s.OnEntityDeleted(ctx, r, model.OwnerRef{Kind: model.OwnerCard, ID: c.ID}); err != nil {
			return err
		}
	}
	w, err := r.Waivers.GetByCombatant(ctx, id)
	switch {
	case err == nil:
		if err := s.OnEntityDeleted(ctx, r, model.OwnerRef{Kind: model.OwnerWaiver, ID: w.ID}); err != nil {
			return err
		}
	case !errors.Is(err, errs.ErrNotFound):
		return err
	}
	return r.Combatants.Delete(ctx, id)
}
