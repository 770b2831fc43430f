package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/logger"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/perm"
	"github.com/and161185/emol/internal/repository"
)

// CombatantService manages combatant records and their self-serve flows.
type CombatantService struct {
	store   repository.Store
	sched   *Scheduler
	codes   *CodeService
	privacy *PrivacyService
	notify  notifier
	perms   *perm.Checker
	log     *zap.Logger
}

// NewCombatantService constructs a CombatantService.
func NewCombatantService(store repository.Store, sched *Scheduler, codes *CodeService, privacy *PrivacyService, sender mail.Sender, perms *perm.Checker, log *zap.Logger) *CombatantService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CombatantService{
		store:   store,
		sched:   sched,
		codes:   codes,
		privacy: privacy,
		notify:  notifier{mail: sender, log: log},
		perms:   perms,
		log:     log,
	}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create stores a new combatant (pending privacy acceptance) and sends the privacy policy email.
// A failed email does not undo the record; the policy can be resent.
func (s *CombatantService) Create(ctx context.Context, actor perm.Actor, c *model.Combatant) error {
	if err := s.perms.Require(ctx, actor, perm.WriteCombatantInfo, nil); err != nil {
		return err
	}
	c.Email = normalizeEmail(c.Email)
	if c.Email == "" {
		return errors.New("validation: empty email")
	}
	if strings.TrimSpace(c.SCAName) == "" && strings.TrimSpace(c.LegalName) == "" {
		return errors.New("validation: a name is required")
	}
	if c.UUID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generate uuid: %w", err)
		}
		c.UUID = id
	}
	c.CardID, c.PrivacyAccepted = "", false
	if err := s.store.Repos().Combatants.Create(ctx, c); err != nil {
		return err
	}
	s.log.Info("combatant created", zap.Int64("combatant_id", c.ID), logger.Email(c.Email))

	if _, err := s.privacy.SendPolicy(ctx, c.ID); err != nil && !errors.Is(err, errs.ErrSendFailed) {
		return err
	}
	return nil
}

// Get returns a combatant record.
func (s *CombatantService) Get(ctx context.Context, actor perm.Actor, id int64) (*model.Combatant, error) {
	if err := s.perms.Require(ctx, actor, perm.ReadCombatantInfo, nil); err != nil {
		return nil, err
	}
	return s.store.Repos().Combatants.Get(ctx, id)
}

// Update replaces contact fields on behalf of a staff user.
func (s *CombatantService) Update(ctx context.Context, actor perm.Actor, id int64, u model.InfoUpdate) error {
	if err := s.perms.Require(ctx, actor, perm.WriteCombatantInfo, nil); err != nil {
		return err
	}
	u.Email = normalizeEmail(u.Email)
	return s.store.Repos().Combatants.UpdateInfo(ctx, id, u)
}

// RequestInfoUpdate mails a self-serve update link to every accepted combatant using email.
// Unknown addresses are not an error: callers always answer that instructions were sent if the address is on file.
func (s *CombatantService) RequestInfoUpdate(ctx context.Context, email string) error {
	list, err := s.store.Repos().Combatants.ListByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.log.Info("info update requested for unknown email", logger.Email(email))
	}
	for _, c := range list {
		if !c.PrivacyAccepted {
			continue
		}
		code, err := s.codes.Create(ctx, c.ID, model.PurposeInfoUpdate)
		if err != nil {
			return err
		}
		_ = s.notify.toAccepted(ctx, c, mail.InfoUpdate(c.Email, code.URL(), s.codes.TTL(model.PurposeInfoUpdate)))
	}
	return nil
}

// UpdateInfoWithCode applies a self-serve update and consumes the code in the same transaction.
func (s *CombatantService) UpdateInfoWithCode(ctx context.Context, code uuid.UUID, u model.InfoUpdate) error {
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" {
		return errors.New("validation: empty email")
	}
	return s.store.InTx(ctx, func(r repository.Repos) error {
		oc, err := s.codes.redeem(ctx, r, code, model.PurposeInfoUpdate)
		if err != nil {
			return err
		}
		return r.Combatants.UpdateInfo(ctx, oc.CombatantID, u)
	})
}

// Delete removes a combatant together with cards, waiver, codes and their reminders.
func (s *CombatantService) Delete(ctx context.Context, actor perm.Actor, id int64) error {
	if err := s.perms.Require(ctx, actor, perm.WriteCombatantInfo, nil); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(r repository.Repos) error {
		return deleteCombatant(ctx, r, s.sched, id)
	})
}

// SendCardURL mails the card link. Only accepted combatants have a card id.
func (s *CombatantService) SendCardURL(ctx context.Context, id int64) error {
	c, err := s.store.Repos().Combatants.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.notify.toAccepted(ctx, c, mail.CardURL(c.Email, s.privacy.CardURL(c.CardID)))
}
