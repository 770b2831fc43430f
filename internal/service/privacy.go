package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/feature"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

const maxCardIDAttempts = 10

var errCardIDTaken = errors.New("card id taken")

// CardIDGenerator produces candidate card ids.
type CardIDGenerator interface {
	Generate() string
}

// Acceptance is what a combatant sees after accepting the privacy policy.
type Acceptance struct {
	CardID string
	// PINSetupURL is set when PIN protection is on for the combatant.
	PINSetupURL string
}

// PrivacyService runs the privacy policy acceptance flow.
type PrivacyService struct {
	store   repository.Store
	codes   *CodeService
	sched   *Scheduler
	notify  notifier
	gate    feature.Gate
	cardIDs CardIDGenerator
	baseURL string
	log     *zap.Logger
}

// NewPrivacyService constructs a PrivacyService.
func NewPrivacyService(store repository.Store, codes *CodeService, sched *Scheduler, sender mail.Sender, gate feature.Gate, cardIDs CardIDGenerator, baseURL string, log *zap.Logger) *PrivacyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PrivacyService{
		store:   store,
		codes:   codes,
		sched:   sched,
		notify:  notifier{mail: sender, log: log},
		gate:    gate,
		cardIDs: cardIDs,
		baseURL: baseURL,
		log:     log,
	}
}

// CardURL is where a combatant's card can be viewed.
func (s *PrivacyService) CardURL(cardID string) string {
	return s.baseURL + "/card/" + cardID
}

// SendPolicy issues a privacy-acceptance code and emails the policy link.
func (s *PrivacyService) SendPolicy(ctx context.Context, combatantID int64) (*model.OneTimeCode, error) {
	c, err := s.store.Repos().Combatants.Get(ctx, combatantID)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.Create(ctx, combatantID, model.PurposePrivacyAcceptance)
	if err != nil {
		return nil, err
	}
	if err := s.notify.send(ctx, mail.PrivacyPolicy(c.Email, code.URL(), s.codes.TTL(model.PurposePrivacyAcceptance))); err != nil {
		return code, err
	}
	return code, nil
}

// Accept redeems a privacy-acceptance code, assigns a unique card id and
// either starts PIN setup or mails the card link.
func (s *PrivacyService) Accept(ctx context.Context, code uuid.UUID) (Acceptance, error) {
	var c *model.Combatant
	var err error
	for attempt := 0; attempt < maxCardIDAttempts; attempt++ {
		c, err = s.accept(ctx, code)
		if !errors.Is(err, errCardIDTaken) {
			break
		}
		s.log.Debug("card id collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		if errors.Is(err, errCardIDTaken) {
			return Acceptance{}, fmt.Errorf("no free card id after %d attempts", maxCardIDAttempts)
		}
		return Acceptance{}, err
	}

	out := Acceptance{CardID: c.CardID}
	if s.gate.EnabledFor(ctx, feature.PINAuthentication, c.ID) {
		setup, err := s.codes.Create(ctx, c.ID, model.PurposePINSetup)
		if err != nil {
			return out, err
		}
		out.PINSetupURL = setup.URL()
		_ = s.notify.toAccepted(ctx, c, mail.PINSetup(c.Email, out.PINSetupURL))
		return out, nil
	}
	_ = s.notify.toAccepted(ctx, c, mail.CardURL(c.Email, s.CardURL(c.CardID)))
	return out, nil
}

// accept runs one attempt in its own transaction so a card id conflict leaves nothing behind.
func (s *PrivacyService) accept(ctx context.Context, code uuid.UUID) (*model.Combatant, error) {
	var out *model.Combatant
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		oc, err := s.codes.redeem(ctx, r, code, model.PurposePrivacyAcceptance)
		if err != nil {
			return err
		}
		c, err := r.Combatants.Get(ctx, oc.CombatantID)
		if err != nil {
			return err
		}
		if c.PrivacyAccepted {
			out = c
			return nil
		}

		cardID := s.cardIDs.Generate()
		switch _, err := r.Combatants.GetByCardID(ctx, cardID); {
		case err == nil:
			return errCardIDTaken
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}
		if err := r.Combatants.AcceptPrivacy(ctx, c.ID, cardID); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errCardIDTaken
			}
			return err
		}
		c.PrivacyAccepted = true
		c.CardID = cardID
		out = c
		return nil
	})
	return out, err
}

// Decline redeems a privacy-acceptance code and deletes the combatant with everything it owns.
func (s *PrivacyService) Decline(ctx context.Context, code uuid.UUID) error {
	return s.store.InTx(ctx, func(r repository.Repos) error {
		oc, err := s.codes.redeem(ctx, r, code, model.PurposePrivacyAcceptance)
		if err != nil {
			return err
		}
		if err := deleteCombatant(ctx, r, s.sched, oc.CombatantID); err != nil {
			return err
		}
		s.log.Info("privacy policy declined, combatant removed", zap.Int64("combatant_id", oc.CombatantID))
		return nil
	})
}
