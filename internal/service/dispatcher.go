package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/ids"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/obs"
	"github.com/and161185/emol/internal/repository"
)

// Dispatch actions recorded per reminder.
const (
	ActionSend      = "send"
	ActionFailed    = "failed"
	ActionSkip      = "skip_privacy"
	ActionSupersede = "supersede"
	ActionOrphan    = "orphan"
	ActionClaimed   = "claimed_elsewhere"
)

// Decision is what the dispatcher did, or would do, with one reminder.
type Decision struct {
	Reminder model.Reminder
	Action   string
	To       string
}

// DispatchReport summarizes one sweep.
type DispatchReport struct {
	RunID      ids.RunID
	DryRun     bool
	Orphans    int
	Superseded int
	Sent       int
	Failed     int
	Skipped    int
	Decisions  []Decision
}

// Dispatcher sends due reminders.
type Dispatcher struct {
	store   repository.Store
	sender  mail.Sender
	clk     clock.Clock
	log     *zap.Logger
	metrics *obs.Metrics
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store repository.Store, sender mail.Sender, clk clock.Clock, log *zap.Logger, metrics *obs.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = obs.Discard()
	}
	return &Dispatcher{store: store, sender: sender, clk: clk, log: log, metrics: metrics}
}

// Dispatch runs one sweep: drop orphans, keep only the closest due reminder per owner, and send it.
// A reminder is claimed by deleting it before sending and restored if the send fails, so two
// concurrent sweeps never send the same reminder. Per-reminder failures are logged and counted;
// only failures to list reminders abort the sweep. In dry-run mode nothing is sent or deleted.
func (d *Dispatcher) Dispatch(ctx context.Context, dryRun bool) (DispatchReport, error) {
	rep := DispatchReport{RunID: ids.NewRun(), DryRun: dryRun}
	log := d.log.With(zap.String("run_id", rep.RunID.String()), zap.Bool("dry_run", dryRun))
	r := d.store.Repos()
	today := clock.Today(d.clk.Now())

	orphans, err := r.Reminders.ListOrphans(ctx)
	if err != nil {
		return rep, fmt.Errorf("list orphaned reminders: %w", err)
	}
	orphaned := make(map[int64]struct{}, len(orphans))
	for _, o := range orphans {
		orphaned[o.ID] = struct{}{}
		d.drop(ctx, r, &rep, log, o, ActionOrphan)
	}

	due, err := r.Reminders.ListDue(ctx, today)
	if err != nil {
		return rep, fmt.Errorf("list due reminders: %w", err)
	}

	for _, group := range groupByOwner(due, orphaned) {
		closest := group[0]
		for _, rem := range group[1:] {
			if rem.DaysToExpiry < closest.DaysToExpiry {
				closest = rem
			}
		}
		for _, rem := range group {
			if rem.ID != closest.ID {
				d.drop(ctx, r, &rep, log, rem, ActionSupersede)
			}
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		d.deliver(ctx, r, &rep, log, closest)
	}

	log.Info("reminder dispatch finished",
		zap.Int("orphans", rep.Orphans),
		zap.Int("superseded", rep.Superseded),
		zap.Int("sent", rep.Sent),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

// groupByOwner keeps the order of first appearance; due is already sorted by kind, owner and due date.
func groupByOwner(due []model.Reminder, skip map[int64]struct{}) [][]model.Reminder {
	idx := map[model.OwnerRef]int{}
	var out [][]model.Reminder
	for _, rem := range due {
		if _, ok := skip[rem.ID]; ok {
			continue
		}
		i, ok := idx[rem.Owner]
		if !ok {
			i = len(out)
			idx[rem.Owner] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], rem)
	}
	return out
}

func (d *Dispatcher) record(rep *DispatchReport, rem model.Reminder, action, to string) {
	switch action {
	case ActionOrphan:
		rep.Orphans++
	case ActionSupersede:
		rep.Superseded++
	case ActionSend:
		rep.Sent++
	case ActionFailed:
		rep.Failed++
	case ActionSkip:
		rep.Skipped++
	}
	if rep.DryRun {
		rep.Decisions = append(rep.Decisions, Decision{Reminder: rem, Action: action, To: to})
		return
	}
	d.metrics.Reminder(string(rem.Owner.Kind), outcome(action))
}

func outcome(action string) string {
	switch action {
	case ActionSend:
		return obs.OutcomeSent
	case ActionSkip:
		return obs.OutcomeSkipped
	case ActionSupersede:
		return obs.OutcomeSuperseded
	case ActionOrphan:
		return obs.OutcomeOrphan
	default:
		return obs.OutcomeFailed
	}
}

func (d *Dispatcher) drop(ctx context.Context, r repository.Repos, rep *DispatchReport, log *zap.Logger, rem model.Reminder, action string) {
	if !rep.DryRun {
		if _, err := r.Reminders.Delete(ctx, rem.ID); err != nil {
			log.Error("delete reminder failed", zap.Int64("reminder_id", rem.ID), zap.String("reason", action), zap.Error(err))
			return
		}
	}
	log.Debug("reminder dropped", zap.Int64("reminder_id", rem.ID), zap.String("reason", action),
		zap.String("kind", string(rem.Owner.Kind)), zap.Int64("owner_id", rem.Owner.ID), zap.Int("days", rem.DaysToExpiry))
	d.record(rep, rem, action, "")
}

// resolve loads the owner and its holder; errs.ErrOrphan when either is gone.
func resolve(ctx context.Context, r repository.Repos, ref model.OwnerRef) (expiry.Owner, error) {
	var (
		holderID int64
		build    func(*model.Combatant) expiry.Owner
	)
	switch ref.Kind {
	case model.OwnerCard:
		c, err := r.Cards.Get(ctx, ref.ID)
		if err != nil {
			return nil, orphanIfMissing(err)
		}
		holderID = c.CombatantID
		build = func(h *model.Combatant) expiry.Owner { return expiry.NewCard(c, h) }
	case model.OwnerWaiver:
		w, err := r.Waivers.Get(ctx, ref.ID)
		if err != nil {
			return nil, orphanIfMissing(err)
		}
		holderID = w.CombatantID
		build = func(h *model.Combatant) expiry.Owner { return expiry.NewWaiver(w, h) }
	default:
		return nil, fmt.Errorf("%w: unknown owner kind %q", errs.ErrOrphan, ref.Kind)
	}
	h, err := r.Combatants.Get(ctx, holderID)
	if err != nil {
		return nil, orphanIfMissing(err)
	}
	return build(h), nil
}

func orphanIfMissing(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrOrphan
	}
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, r repository.Repos, rep *DispatchReport, log *zap.Logger, rem model.Reminder) {
	log = log.With(zap.Int64("reminder_id", rem.ID), zap.String("kind", string(rem.Owner.Kind)),
		zap.Int64("owner_id", rem.Owner.ID), zap.Int("days", rem.DaysToExpiry))

	owner, err := resolve(ctx, r, rem.Owner)
	switch {
	case errors.Is(err, errs.ErrOrphan):
		d.drop(ctx, r, rep, log, rem, ActionOrphan)
		return
	case err != nil:
		log.Error("resolve reminder owner failed", zap.Error(err))
		d.record(rep, rem, ActionFailed, "")
		return
	}

	holder := owner.Subject()
	if !holder.PrivacyAccepted {
		log.Info("reminder held, privacy policy not accepted", zap.Int64("combatant_id", holder.ID))
		d.record(rep, rem, ActionSkip, holder.Email)
		return
	}

	msg := expiry.Render(owner, rem.DaysToExpiry)
	if rep.DryRun {
		d.record(rep, rem, ActionSend, msg.To)
		return
	}

	claimed, err := r.Reminders.Delete(ctx, rem.ID)
	if err != nil {
		log.Error("claim reminder failed", zap.Error(err))
		d.record(rep, rem, ActionFailed, msg.To)
		return
	}
	if !claimed {
		log.Info("reminder already claimed by another sweep")
		return
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		log.Warn("reminder send failed, keeping it for the next sweep", logger.Email(msg.To), zap.Error(err))
		d.restore(ctx, r, log, rem)
		d.record(rep, rem, ActionFailed, msg.To)
		return
	}
	log.Info("reminder sent", logger.Email(msg.To), zap.String("template", msg.Kind))
	d.record(rep, rem, ActionSend, msg.To)
}

// restore puts a claimed reminder back after a failed send.
func (d *Dispatcher) restore(ctx context.Context, r repository.Repos, log *zap.Logger, rem model.Reminder) {
	back := rem
	back.ID = 0
	if err := r.Reminders.Create(ctx, &back); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		log.Error("restore reminder failed", zap.Error(err))
	}
}
