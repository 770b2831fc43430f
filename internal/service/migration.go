package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/ids"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

// MigrationOptions controls one stage of the PIN migration campaign.
type MigrationOptions struct {
	Stage  mail.MigrationStage
	DryRun bool
	Limit  int // <= 0 means everyone
}

// MigrationReport summarizes a campaign stage.
type MigrationReport struct {
	RunID    ids.RunID
	Stage    mail.MigrationStage
	DryRun   bool
	Targeted int
	Sent     int
	Failed   int
}

// PINMigration asks accepted combatants without a PIN to set one.
type PINMigration struct {
	store  repository.Store
	codes  *CodeService
	notify notifier
	log    *zap.Logger
}

// NewPINMigration constructs a PINMigration.
func NewPINMigration(store repository.Store, codes *CodeService, sender mail.Sender, log *zap.Logger) *PINMigration {
	if log == nil {
		log = zap.NewNop()
	}
	return &PINMigration{store: store, codes: codes, notify: notifier{mail: sender, log: log}, log: log}
}

// Run mails every target a fresh pin-setup link for the stage. Send failures are counted, not returned.
func (m *PINMigration) Run(ctx context.Context, opts MigrationOptions) (MigrationReport, error) {
	if opts.Stage == "" {
		opts.Stage = mail.StageInitial
	}
	rep := MigrationReport{RunID: ids.NewRun(), Stage: opts.Stage, DryRun: opts.DryRun}
	log := m.log.With(zap.String("run_id", rep.RunID.String()), zap.String("stage", string(opts.Stage)), zap.Bool("dry_run", opts.DryRun))

	targets, err := m.store.Repos().Combatants.ListWithoutPIN(ctx, opts.Limit)
	if err != nil {
		return rep, fmt.Errorf("list combatants without pin: %w", err)
	}
	rep.Targeted = len(targets)
	if opts.DryRun {
		for _, c := range targets {
			log.Info("would send pin migration email", zap.Int64("combatant_id", c.ID), logger.Email(c.Email))
		}
		return rep, nil
	}

	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		code, err := m.codes.Create(ctx, c.ID, model.PurposePINSetup)
		if err != nil {
			return rep, err
		}
		if err := m.notify.toAccepted(ctx, c, mail.PINMigration(c.Email, code.URL(), opts.Stage)); err != nil {
			rep.Failed++
			continue
		}
		rep.Sent++
	}
	log.Info("pin migration stage finished", zap.Int("targeted", rep.Targeted), zap.Int("sent", rep.Sent), zap.Int("failed", rep.Failed))
	return rep, nil
}
