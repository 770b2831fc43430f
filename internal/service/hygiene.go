package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/ids"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

// maxListedOrphans caps how many orphans a report spells out.
const maxListedOrphans = 10

// MissingReminders names the lead days an owner lacks.
type MissingReminders struct {
	Owner model.OwnerRef
	Days  []int
}

// HygieneReport is the result of a hygiene pass.
type HygieneReport struct {
	RunID       ids.RunID
	Checked     int
	Missing     []MissingReminders
	Created     int
	OrphanCount int
	Orphans     []model.Reminder // at most maxListedOrphans
}

// MissingCount is the number of absent reminders across all owners.
func (h HygieneReport) MissingCount() int {
	n := 0
	for _, m := range h.Missing {
		n += len(m.Days)
	}
	return n
}

// Hygiene compares stored reminders with what each unexpired card and waiver should still have.
type Hygiene struct {
	store repository.Store
	days  []int
	clk   clock.Clock
	log   *zap.Logger
}

// NewHygiene constructs a Hygiene pass for the configured lead days.
func NewHygiene(store repository.Store, days []int, clk clock.Clock, log *zap.Logger) *Hygiene {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hygiene{store: store, days: append([]int(nil), days...), clk: clk, log: log}
}

// Run reports missing reminders and orphans; with fix it creates only the missing reminders.
// Orphans are left for the dispatcher.
func (h *Hygiene) Run(ctx context.Context, fix bool) (HygieneReport, error) {
	rep := HygieneReport{RunID: ids.NewRun()}
	log := h.log.With(zap.String("run_id", rep.RunID.String()), zap.Bool("fix", fix))
	today := clock.Today(h.clk.Now())
	r := h.store.Repos()

	owners, err := h.owners(ctx, r)
	if err != nil {
		return rep, err
	}
	for _, o := range owners {
		if expiry.DaysUntil(o, today) <= 0 {
			continue
		}
		rep.Checked++
		missing, err := h.missing(ctx, r, o, today)
		if err != nil {
			return rep, err
		}
		if len(missing) == 0 {
			continue
		}
		rep.Missing = append(rep.Missing, MissingReminders{Owner: o.Ref(), Days: missing})
		if !fix {
			continue
		}
		n, err := h.repair(ctx, o, today)
		if err != nil {
			return rep, err
		}
		rep.Created += n
	}

	orphans, err := r.Reminders.ListOrphans(ctx)
	if err != nil {
		return rep, fmt.Errorf("list orphaned reminders: %w", err)
	}
	rep.OrphanCount = len(orphans)
	if len(orphans) > maxListedOrphans {
		orphans = orphans[:maxListedOrphans]
	}
	rep.Orphans = orphans

	log.Info("reminder hygiene finished",
		zap.Int("checked", rep.Checked),
		zap.Int("missing", rep.MissingCount()),
		zap.Int("created", rep.Created),
		zap.Int("orphans", rep.OrphanCount),
	)
	return rep, nil
}

func (h *Hygiene) owners(ctx context.Context, r repository.Repos) ([]expiry.Owner, error) {
	cards, err := r.Cards.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	waivers, err := r.Waivers.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list waivers: %w", err)
	}
	out := make([]expiry.Owner, 0, len(cards)+len(waivers))
	for _, c := range cards {
		out = append(out, expiry.NewCard(c, nil))
	}
	for _, w := range waivers {
		out = append(out, expiry.NewWaiver(w, nil))
	}
	return out, nil
}

func (h *Hygiene) missing(ctx context.Context, r repository.Repos, o expiry.Owner, today time.Time) ([]int, error) {
	have, err := r.Reminders.ListForOwner(ctx, o.Ref())
	if err != nil {
		return nil, fmt.Errorf("list reminders for %s %d: %w", o.Ref().Kind, o.Ref().ID, err)
	}
	present := make(map[int]struct{}, len(have))
	for _, rem := range have {
		present[rem.DaysToExpiry] = struct{}{}
	}
	var out []int
	for _, d := range expiry.Expected(o, today, h.days) {
		if _, ok := present[d]; !ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// repair creates the reminders still missing under the owner lock.
func (h *Hygiene) repair(ctx context.Context, o expiry.Owner, today time.Time) (int, error) {
	created := 0
	err := h.store.InTx(ctx, func(r repository.Repos) error {
		created = 0
		if err := r.Reminders.LockOwner(ctx, o.Ref()); err != nil {
			return err
		}
		missing, err := h.missing(ctx, r, o, today)
		if err != nil {
			return err
		}
		want := make(map[int]struct{}, len(missing))
		for _, d := range missing {
			want[d] = struct{}{}
		}
		for _, rem := range expiry.Plan(o, h.days) {
			if _, ok := want[rem.DaysToExpiry]; !ok {
				continue
			}
			if err := r.Reminders.Create(ctx, &rem); err != nil {
				if errors.Is(err, errs.ErrAlreadyExists) {
					continue
				}
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
