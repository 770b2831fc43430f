// Package service implements the reminder lifecycle, one-time codes, PIN credentials and the
// privacy acceptance flow on top of the repository interfaces.
package service

import (
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/cardid"
	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/feature"
	"github.com/and161185/emol/internal/grant"
	"github.com/and161185/emol/internal/limiter"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/obs"
	"github.com/and161185/emol/internal/perm"
	"github.com/and161185/emol/internal/repository"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store   repository.Store
	Limiter limiter.Limiter
	Mail    mail.Sender
	Gate    feature.Gate
	Grants  *grant.Issuer
	CardIDs CardIDGenerator // nil means the heraldic generator
	Clock   clock.Clock     // nil means system time
	Config  *config.Config
	Log     *zap.Logger
	Metrics *obs.Metrics
}

// Services is the wired set of application services.
type Services struct {
	Scheduler  *Scheduler
	Codes      *CodeService
	PIN        *PINService
	Privacy    *PrivacyService
	Combatants *CombatantService
	Cards      *CardService
	Dispatcher *Dispatcher
	Hygiene    *Hygiene
	Summary    *Summarizer
	Migration  *PINMigration
}

// New wires every service from d.
func New(d Deps) *Services {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = obs.Discard()
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.CardIDs == nil {
		d.CardIDs = cardid.New()
	}
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}

	perms := perm.NewChecker(d.Store.Repos().Permissions)
	sched := NewScheduler(cfg.Reminders.Days, d.Log.Named("scheduler"))
	codes := NewCodeService(d.Store, d.Clock, cfg.App.BaseURL, cfg.Codes, d.Log.Named("codes"), d.Metrics)
	privacy := NewPrivacyService(d.Store, codes, sched, d.Mail, d.Gate, d.CardIDs, cfg.App.BaseURL, d.Log.Named("privacy"))

	return &Services{
		Scheduler: sched,
		Codes:     codes,
		PIN: NewPINService(PINDeps{
			Store:   d.Store,
			Limiter: d.Limiter,
			Codes:   codes,
			Mail:    d.Mail,
			Gate:    d.Gate,
			Grants:  d.Grants,
			Perms:   perms,
			Log:     d.Log.Named("pin"),
			Metrics: d.Metrics,
		}),
		Privacy:    privacy,
		Combatants: NewCombatantService(d.Store, sched, codes, privacy, d.Mail, perms, d.Log.Named("combatants")),
		Cards:      NewCardService(d.Store, sched, perms, d.Clock, d.Log.Named("cards")),
		Dispatcher: NewDispatcher(d.Store, d.Mail, d.Clock, d.Log.Named("dispatcher"), d.Metrics),
		Hygiene:    NewHygiene(d.Store, cfg.Reminders.Days, d.Clock, d.Log.Named("hygiene")),
		Summary:    NewSummarizer(d.Store, d.Clock),
		Migration:  NewPINMigration(d.Store, codes, d.Mail, d.Log.Named("migration")),
	}
}
