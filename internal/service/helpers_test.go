package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/grant"
	"github.com/and161185/emol/internal/limiter"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/perm"
	"github.com/and161185/emol/internal/repository"
	"github.com/and161185/emol/internal/repository/memory"
)

var systemActor = perm.System

func actor(userID int64) perm.Actor { return perm.Actor{UserID: userID} }

type fakeMail struct {
	mu   sync.Mutex
	sent []mail.Message
	fail map[string]bool // recipient -> fail
}

func (f *fakeMail) Send(_ context.Context, m mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[m.To] {
		return fmt.Errorf("%w: relay refused", errs.ErrSendFailed)
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMail) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Kind)
	}
	return out
}

func (f *fakeMail) last() mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return mail.Message{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeGate struct {
	on map[string]bool
}

func (g *fakeGate) Enabled(_ context.Context, name string) bool { return g.on[name] }
func (g *fakeGate) EnabledFor(_ context.Context, name string, _ int64) bool {
	return g.on[name]
}

type seqIDs struct {
	ids []string
	i   int
}

func (s *seqIDs) Generate() string {
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

type env struct {
	store *memory.Store
	clk   *clock.Manual
	mail  *fakeMail
	gate  *fakeGate
	ids   *seqIDs
	svc   *Services
	next  int
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()

	store := memory.New()
	clk := clock.NewManual(now)
	grants, err := grant.NewIssuer([]byte("test-key"), time.Hour, clk)
	if err != nil {
		t.Fatalf("grant issuer: %v", err)
	}
	cfg := config.Default()
	cfg.App.BaseURL = "https://emol.example"

	e := &env{
		store: store,
		clk:   clk,
		mail:  &fakeMail{fail: map[string]bool{}},
		gate:  &fakeGate{on: map[string]bool{}},
		ids:   &seqIDs{ids: []string{"argent-fess-wyvern", "or-bend-sun", "gules-pale-star"}},
	}
	e.svc = New(Deps{
		Store:   store,
		Limiter: memory.NewLimiter(store, limiter.DefaultPolicy, clk),
		Mail:    e.mail,
		Gate:    e.gate,
		Grants:  grants,
		CardIDs: e.ids,
		Clock:   clk,
		Config:  cfg,
	})
	return e
}

func (e *env) combatant(t *testing.T, email string, accepted bool) *model.Combatant {
	t.Helper()
	ctx := context.Background()

	c := &model.Combatant{UUID: uuid.Must(uuid.NewV4()), Email: email, SCAName: "Test " + email}
	if err := e.store.Repos().Combatants.Create(ctx, c); err != nil {
		t.Fatalf("create combatant: %v", err)
	}
	if accepted {
		e.next++
		c.CardID = fmt.Sprintf("test-card-%d", e.next)
		c.PrivacyAccepted = true
		if err := e.store.Repos().Combatants.AcceptPrivacy(ctx, c.ID, c.CardID); err != nil {
			t.Fatalf("accept privacy: %v", err)
		}
	}
	return c
}

func (e *env) card(t *testing.T, holder *model.Combatant, discipline *model.Discipline, issued time.Time) *model.Card {
	t.Helper()
	ctx := context.Background()

	card := &model.Card{CombatantID: holder.ID, DisciplineID: discipline.ID, UUID: uuid.Must(uuid.NewV4()), DateIssued: issued}
	err := e.store.InTx(ctx, func(r repository.Repos) error {
		if err := r.Cards.Create(ctx, card); err != nil {
			return err
		}
		return e.svc.Scheduler.OnIssueDateChanged(ctx, r, expiry.NewCard(card, holder))
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return card
}

func (e *env) reminders(t *testing.T, ref model.OwnerRef) map[int]model.Reminder {
	t.Helper()
	list, err := e.store.Repos().Reminders.ListForOwner(context.Background(), ref)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	out := map[int]model.Reminder{}
	for _, r := range list {
		out[r.DaysToExpiry] = r
	}
	return out
}
