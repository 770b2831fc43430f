package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/crypto"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/feature"
	"github.com/and161185/emol/internal/grant"
	"github.com/and161185/emol/internal/limiter"
	"github.com/and161185/emol/internal/mail"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/obs"
	"github.com/and161185/emol/internal/perm"
	"github.com/and161185/emol/internal/repository"
)

// PINResult is the outcome of a PIN check.
type PINResult string

const (
	PINOK     PINResult = "ok"
	PINWrong  PINResult = "wrong"
	PINLocked PINResult = "locked"
	PINNoPIN  PINResult = "no_pin"
)

// CardAccess is a verified right to view one card.
type CardAccess struct {
	Result    PINResult
	Token     string
	ExpiresAt time.Time
}

// PINService manages PIN credentials.
type PINService struct {
	store   repository.Store
	lim     limiter.Limiter
	codes   *CodeService
	notify  notifier
	gate    feature.Gate
	grants  *grant.Issuer
	perms   *perm.Checker
	log     *zap.Logger
	metrics *obs.Metrics
}

// PINDeps groups the collaborators of PINService.
type PINDeps struct {
	Store   repository.Store
	Limiter limiter.Limiter
	Codes   *CodeService
	Mail    mail.Sender
	Gate    feature.Gate
	Grants  *grant.Issuer
	Perms   *perm.Checker
	Log     *zap.Logger
	Metrics *obs.Metrics
}

// NewPINService constructs a PINService.
func NewPINService(d PINDeps) *PINService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = obs.Discard()
	}
	return &PINService{
		store:   d.Store,
		lim:     d.Limiter,
		codes:   d.Codes,
		notify:  notifier{mail: d.Mail, log: d.Log},
		gate:    d.Gate,
		grants:  d.Grants,
		perms:   d.Perms,
		log:     d.Log,
		metrics: d.Metrics,
	}
}

// SetPIN validates and stores a PIN, clearing failures and any lockout.
func (s *PINService) SetPIN(ctx context.Context, combatantID int64, pin string) error {
	return setPIN(ctx, s.store.Repos(), combatantID, pin)
}

func setPIN(ctx context.Context, r repository.Repos, combatantID int64, pin string) error {
	hash, err := crypto.HashPIN(pin)
	if err != nil {
		return err
	}
	if err := r.Combatants.SetPIN(ctx, combatantID, hash); err != nil {
		return fmt.Errorf("store pin: %w", err)
	}
	return nil
}

// CheckPIN verifies pin for a combatant and applies the lockout policy.
// The miss that reaches the attempt limit locks the combatant, emails a lockout notice and reports PINLocked.
// An unknown combatant reports PINWrong; only storage failures come back as errors.
func (s *PINService) CheckPIN(ctx context.Context, combatantID int64, pin string) (PINResult, error) {
	res, err := s.checkPIN(ctx, combatantID, pin)
	if err == nil {
		s.metrics.PINCheck(string(res))
	}
	return res, err
}

func (s *PINService) checkPIN(ctx context.Context, combatantID int64, pin string) (PINResult, error) {
	c, err := s.store.Repos().Combatants.Get(ctx, combatantID)
	if errors.Is(err, errs.ErrNotFound) {
		return PINWrong, nil
	}
	if err != nil {
		return "", err
	}
	if !c.HasPIN() {
		return PINNoPIN, nil
	}

	allowed, _, err := s.lim.Allow(ctx, combatantID)
	if err != nil {
		return "", fmt.Errorf("pin limiter: %w", err)
	}
	if !allowed {
		return PINLocked, nil
	}

	ok, err := crypto.VerifyPIN(pin, c.PINHash)
	if err != nil {
		return "", fmt.Errorf("verify pin: %w", err)
	}
	if ok {
		if err := s.lim.Success(ctx, combatantID); err != nil {
			return "", fmt.Errorf("pin limiter: %w", err)
		}
		return PINOK, nil
	}

	locked, lockout, err := s.lim.Failure(ctx, combatantID)
	if errors.Is(err, errs.ErrLocked) {
		return PINLocked, nil
	}
	if err != nil {
		return "", fmt.Errorf("pin limiter: %w", err)
	}
	if !locked {
		return PINWrong, nil
	}
	s.log.Warn("pin locked", zap.Int64("combatant_id", combatantID), zap.Duration("lockout", lockout))
	// the lockout stands even if the notice cannot be delivered
	_ = s.notify.send(ctx, mail.PINLockout(c.Email, lockout))
	return PINLocked, nil
}

// VerifyCard grants access to a card. When PIN protection is on for the holder the PIN must check out.
func (s *PINService) VerifyCard(ctx context.Context, cardID, pin string) (CardAccess, error) {
	c, err := s.store.Repos().Combatants.GetByCardID(ctx, cardID)
	if err != nil {
		return CardAccess{}, err
	}
	if s.gate.EnabledFor(ctx, feature.PINAuthentication, c.ID) {
		res, err := s.CheckPIN(ctx, c.ID, pin)
		if err != nil || res != PINOK {
			return CardAccess{Result: res}, err
		}
	}
	tok, exp, err := s.grants.Issue(cardID)
	if err != nil {
		return CardAccess{}, fmt.Errorf("issue card grant: %w", err)
	}
	return CardAccess{Result: PINOK, Token: tok, ExpiresAt: exp}, nil
}

// ClearLockout resets the failure counter and lifts any lockout.
func (s *PINService) ClearLockout(ctx context.Context, actor perm.Actor, combatantID int64) error {
	if err := s.perms.Require(ctx, actor, perm.CanInitiatePINReset, nil); err != nil {
		return err
	}
	return s.lim.Success(ctx, combatantID)
}

// ClearPIN removes a combatant's PIN.
func (s *PINService) ClearPIN(ctx context.Context, actor perm.Actor, combatantID int64) error {
	if err := s.perms.Require(ctx, actor, perm.WriteCombatantInfo, nil); err != nil {
		return err
	}
	return s.store.Repos().Combatants.ClearPIN(ctx, combatantID)
}

// InitiateReset clears the PIN, issues a pin-reset code and mails its link.
// The code is returned even when the email fails, together with the send error.
func (s *PINService) InitiateReset(ctx context.Context, actor perm.Actor, combatantID int64) (*model.OneTimeCode, error) {
	if err := s.perms.Require(ctx, actor, perm.CanInitiatePINReset, nil); err != nil {
		return nil, err
	}
	var (
		c    *model.Combatant
		code *model.OneTimeCode
	)
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		if c, err = r.Combatants.Get(ctx, combatantID); err != nil {
			return err
		}
		if err = r.Combatants.ClearPIN(ctx, combatantID); err != nil {
			return err
		}
		code, err = s.codes.create(ctx, r, combatantID, model.PurposePINReset)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("pin reset initiated", zap.Int64("combatant_id", combatantID), zap.Int64("by_user", actor.UserID))
	if err := s.notify.send(ctx, mail.PINReset(c.Email, code.URL())); err != nil {
		return code, err
	}
	return code, nil
}

// SetupWithCode sets the first PIN through a pin-setup link.
func (s *PINService) SetupWithCode(ctx context.Context, code uuid.UUID, pin, confirm string) error {
	return s.completeWithCode(ctx, code, pin, confirm, model.PurposePINSetup)
}

// ResetWithCode sets a new PIN through a pin-reset link.
func (s *PINService) ResetWithCode(ctx context.Context, code uuid.UUID, pin, confirm string) error {
	return s.completeWithCode(ctx, code, pin, confirm, model.PurposePINReset)
}

func (s *PINService) completeWithCode(ctx context.Context, code uuid.UUID, pin, confirm string, purpose model.CodePurpose) error {
	if pin != confirm {
		return errs.ErrPINMismatch
	}
	if !crypto.ValidPIN(pin) {
		return errs.ErrInvalidFormat
	}
	return s.store.InTx(ctx, func(r repository.Repos) error {
		c, err := s.codes.redeem(ctx, r, code, purpose)
		if err != nil {
			return err
		}
		if err := setPIN(ctx, r, c.CombatantID, pin); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return errs.ErrCodeInvalid
			}
			return err
		}
		return nil
	})
}
