package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

func TestScheduler_CardReminderDates(t *testing.T) {
	t.Parallel()

	e := newEnv(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := e.store.AddDiscipline("Armoured Combat", "armoured-combat")
	holder := e.combatant(t, "a@example.org", true)
	card := e.card(t, holder, d, clock.Date(2024, 1, 1))

	got := e.reminders(t, model.OwnerRef{Kind: model.OwnerCard, ID: card.ID})
	want := map[int]time.Time{
		60: clock.Date(2025, 11, 2),
		30: clock.Date(2025, 12, 2),
		14: clock.Date(2025, 12, 18),
		0:  clock.Date(2026, 1, 1),
	}
	if len(got) != len(want) {
		t.Fatalf("want %d reminders, got %v", len(want), got)
	}
	for days, due := range want {
		if !got[days].DueDate.Equal(due) {
			t.Fatalf("d=%d: want %s, got %s", days, due, got[days].DueDate)
		}
	}
}

func TestScheduler_RebuildReplacesAndDeleteClears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := e.store.AddDiscipline("Rapier", "rapier")
	holder := e.combatant(t, "b@example.org", true)
	card := e.card(t, holder, d, clock.Date(2024, 1, 1))
	ref := model.OwnerRef{Kind: model.OwnerCard, ID: card.ID}

	if err := e.svc.Cards.RenewCard(ctx, systemActor, card.ID, clock.Date(2025, 3, 1)); err != nil {
		t.Fatalf("renew: %v", err)
	}
	got := e.reminders(t, ref)
	if len(got) != 4 || !got[0].DueDate.Equal(clock.Date(2027, 3, 1)) {
		t.Fatalf("rebuild did not follow new issue date: %v", got)
	}
	before := got[30].ID

	// same date: untouched
	if err := e.svc.Cards.RenewCard(ctx, systemActor, card.ID, clock.Date(2025, 3, 1)); err != nil {
		t.Fatalf("renew same date: %v", err)
	}
	if e.reminders(t, ref)[30].ID != before {
		t.Fatal("same-date renewal rebuilt reminders")
	}

	err := e.store.InTx(ctx, func(r repository.Repos) error {
		return e.svc.Scheduler.OnEntityDeleted(ctx, r, ref)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := len(e.reminders(t, ref)); n != 0 {
		t.Fatalf("reminders left: %d", n)
	}
}

func TestScheduler_FailureRollsBackEntityChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := e.store.AddDiscipline("Rapier", "rapier")
	holder := e.combatant(t, "c@example.org", true)
	card := e.card(t, holder, d, clock.Date(2024, 1, 1))

	boom := errors.New("boom")
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		if err := r.Cards.UpdateIssued(ctx, card.ID, clock.Date(2025, 1, 1)); err != nil {
			return err
		}
		if err := e.svc.Scheduler.OnIssueDateChanged(ctx, r, expiry.NewCard(card, holder)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	stored, err := e.store.Repos().Cards.Get(ctx, card.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.DateIssued.Equal(clock.Date(2024, 1, 1)) {
		t.Fatalf("issue date not rolled back: %s", stored.DateIssued)
	}
}

func TestCards_GrantCreatesAndRevokeDeletesCard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC))
	d := e.store.AddDiscipline("Rapier", "rapier")
	auth := e.store.AddAuthorization(d.ID, "Single Rapier", "single-rapier", true)
	warrant := e.store.AddMarshal(d.ID, "Marshal", "marshal")
	holder := e.combatant(t, "fencer@example.org", true)

	card, err := e.svc.Cards.GrantAuthorization(ctx, systemActor, holder.ID, auth.ID)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !card.DateIssued.Equal(clock.Date(2025, 4, 10)) {
		t.Fatalf("new card issued %s", card.DateIssued)
	}
	ref := model.OwnerRef{Kind: model.OwnerCard, ID: card.ID}
	if n := len(e.reminders(t, ref)); n != 4 {
		t.Fatalf("new card has %d reminders", n)
	}

	again, err := e.svc.Cards.GrantWarrant(ctx, systemActor, holder.ID, warrant.ID)
	if err != nil || again.ID != card.ID {
		t.Fatalf("warrant should reuse card %d: %v %v", card.ID, again, err)
	}

	if err := e.svc.Cards.RevokeAuthorization(ctx, systemActor, holder.ID, auth.ID); err != nil {
		t.Fatalf("revoke auth: %v", err)
	}
	if _, err := e.store.Repos().Cards.Get(ctx, card.ID); err != nil {
		t.Fatalf("card with a warrant left must stay: %v", err)
	}
	if err := e.svc.Cards.RevokeWarrant(ctx, systemActor, holder.ID, warrant.ID); err != nil {
		t.Fatalf("revoke warrant: %v", err)
	}
	if _, err := e.store.Repos().Cards.Get(ctx, card.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("empty card must be deleted, got %v", err)
	}
	if n := len(e.reminders(t, ref)); n != 0 {
		t.Fatalf("reminders survive card deletion: %d", n)
	}
}

func TestCards_PermissionScopedByDiscipline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))
	e.store.AddPermission("write_authorizations", "Write authorizations", false)
	rapier := e.store.AddDiscipline("Rapier", "rapier")
	armoured := e.store.AddDiscipline("Armoured Combat", "armoured-combat")
	ra := e.store.AddAuthorization(rapier.ID, "Single Rapier", "single-rapier", true)
	aa := e.store.AddAuthorization(armoured.ID, "Weapon & Shield", "weapon-shield", true)
	if err := e.store.Repos().Permissions.Grant(ctx, 42, "write_authorizations", &rapier.ID); err != nil {
		t.Fatalf("grant perm: %v", err)
	}
	holder := e.combatant(t, "x@example.org", true)
	marshal := actor(42)

	if _, err := e.svc.Cards.GrantAuthorization(ctx, marshal, holder.ID, ra.ID); err != nil {
		t.Fatalf("in-scope grant: %v", err)
	}
	if _, err := e.svc.Cards.GrantAuthorization(ctx, marshal, holder.ID, aa.ID); !errors.Is(err, errs.ErrPermissionDenied) {
		t.Fatalf("want permission denied, got %v", err)
	}
}

func TestCombatants_DeleteRemovesOwnedReminders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	e := newEnv(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	d := e.store.AddDiscipline("Rapier", "rapier")
	holder := e.combatant(t, "gone@example.org", true)
	card := e.card(t, holder, d, clock.Date(2024, 6, 1))
	w, err := e.svc.Cards.SetWaiver(ctx, systemActor, holder.ID, clock.Date(2024, 6, 1))
	if err != nil {
		t.Fatalf("waiver: %v", err)
	}

	if err := e.svc.Combatants.Delete(ctx, systemActor, holder.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, ref := range []model.OwnerRef{{Kind: model.OwnerCard, ID: card.ID}, {Kind: model.OwnerWaiver, ID: w.ID}} {
		if n := len(e.reminders(t, ref)); n != 0 {
			t.Fatalf("%s reminders left: %d", ref.Kind, n)
		}
	}
	orphans, err := e.store.Repos().Reminders.ListOrphans(ctx)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans after delete: %v %v", orphans, err)
	}
}
