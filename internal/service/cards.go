package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/expiry"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/perm"
	"github.com/and161185/emol/internal/repository"
)

// CardService manages cards, their authorizations and warrants, and waivers.
// Every change that moves an expiration date rebuilds reminders in the same transaction.
type CardService struct {
	store repository.Store
	sched *Scheduler
	perms *perm.Checker
	clk   clock.Clock
	log   *zap.Logger
}

// NewCardService constructs a CardService.
func NewCardService(store repository.Store, sched *Scheduler, perms *perm.Checker, clk clock.Clock, log *zap.Logger) *CardService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CardService{store: store, sched: sched, perms: perms, clk: clk, log: log}
}

// GrantAuthorization adds an authorization, creating the discipline card issued today when it does not exist yet.
func (s *CardService) GrantAuthorization(ctx context.Context, actor perm.Actor, combatantID, authorizationID int64) (*model.Card, error) {
	a, err := s.store.Repos().Disciplines.GetAuthorization(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, actor, perm.WriteAuthorizations, &a.DisciplineID); err != nil {
		return nil, err
	}
	return s.grant(ctx, combatantID, a.DisciplineID, func(r repository.Repos, cardID int64) error {
		return r.Cards.AddAuthorization(ctx, cardID, authorizationID)
	})
}

// RevokeAuthorization removes an authorization; an emptied card is deleted.
func (s *CardService) RevokeAuthorization(ctx context.Context, actor perm.Actor, combatantID, authorizationID int64) error {
	a, err := s.store.Repos().Disciplines.GetAuthorization(ctx, authorizationID)
	if err != nil {
		return err
	}
	if err := s.perms.Require(ctx, actor, perm.WriteAuthorizations, &a.DisciplineID); err != nil {
		return err
	}
	return s.revoke(ctx, combatantID, a.DisciplineID, func(r repository.Repos, cardID int64) error {
		return r.Cards.RemoveAuthorization(ctx, cardID, authorizationID)
	})
}

// GrantWarrant adds a marshal warrant, creating the discipline card when needed.
func (s *CardService) GrantWarrant(ctx context.Context, actor perm.Actor, combatantID, marshalID int64) (*model.Card, error) {
	m, err := s.store.Repos().Disciplines.GetMarshal(ctx, marshalID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, actor, perm.WriteMarshal, &m.DisciplineID); err != nil {
		return nil, err
	}
	return s.grant(ctx, combatantID, m.DisciplineID, func(r repository.Repos, cardID int64) error {
		return r.Cards.AddWarrant(ctx, cardID, marshalID)
	})
}

// RevokeWarrant removes a marshal warrant; an emptied card is deleted.
func (s *CardService) RevokeWarrant(ctx context.Context, actor perm.Actor, combatantID, marshalID int64) error {
	m, err := s.store.Repos().Disciplines.GetMarshal(ctx, marshalID)
	if err != nil {
		return err
	}
	if err := s.perms.Require(ctx, actor, perm.WriteMarshal, &m.DisciplineID); err != nil {
		return err
	}
	return s.revoke(ctx, combatantID, m.DisciplineID, func(r repository.Repos, cardID int64) error {
		return r.Cards.RemoveWarrant(ctx, cardID, marshalID)
	})
}

func (s *CardService) grant(ctx context.Context, combatantID, disciplineID int64, add func(r repository.Repos, cardID int64) error) (*model.Card, error) {
	var card *model.Card
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		card, err = r.Cards.GetFor(ctx, combatantID, disciplineID)
		if errors.Is(err, errs.ErrNotFound) {
			card, err = s.createCard(ctx, r, combatantID, disciplineID)
		}
		if err != nil {
			return err
		}
		return add(r, card.ID)
	})
	return card, err
}

func (s *CardService) createCard(ctx context.Context, r repository.Repos, combatantID, disciplineID int64) (*model.Card, error) {
	holder, err := r.Combatants.Get(ctx, combatantID)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	card := &model.Card{
		CombatantID:  combatantID,
		DisciplineID: disciplineID,
		UUID:         id,
		DateIssued:   clock.Today(s.clk.Now()),
	}
	if err := r.Cards.Create(ctx, card); err != nil {
		return nil, err
	}
	if err := s.sched.OnIssueDateChanged(ctx, r, expiry.NewCard(card, holder)); err != nil {
		return nil, err
	}
	s.log.Info("card created", zap.Int64("card_id", card.ID), zap.Int64("combatant_id", combatantID), zap.Int64("discipline_id", disciplineID))
	return card, nil
}

func (s *CardService) revoke(ctx context.Context, combatantID, disciplineID int64, remove func(r repository.Repos, cardID int64) error) error {
	return s.store.InTx(ctx, func(r repository.Repos) error {
		card, err := r.Cards.GetFor(ctx, combatantID, disciplineID)
		if err != nil {
			return err
		}
		if err := remove(r, card.ID); err != nil {
			return err
		}
		auths, warrants, err := r.Cards.Counts(ctx, card.ID)
		if err != nil {
			return err
		}
		if auths > 0 || warrants > 0 {
			return nil
		}
		if err := s.sched.OnEntityDeleted(ctx, r, model.OwnerRef{Kind: model.OwnerCard, ID: card.ID}); err != nil {
			return err
		}
		s.log.Info("empty card deleted", zap.Int64("card_id", card.ID))
		return r.Cards.Delete(ctx, card.ID)
	})
}

// RenewCard sets a new issue date. The same date is a no-op and leaves reminders alone.
func (s *CardService) RenewCard(ctx context.Context, actor perm.Actor, cardID int64, issued time.Time) error {
	card, err := s.store.Repos().Cards.Get(ctx, cardID)
	if err != nil {
		return err
	}
	if err := s.perms.Require(ctx, actor, perm.WriteCardDate, &card.DisciplineID); err != nil {
		return err
	}
	issued = clock.Today(issued)
	return s.store.InTx(ctx, func(r repository.Repos) error {
		card, err := r.Cards.Get(ctx, cardID)
		if err != nil {
			return err
		}
		if card.DateIssued.Equal(issued) {
			return nil
		}
		if err := r.Cards.UpdateIssued(ctx, cardID, issued); err != nil {
			return err
		}
		card.DateIssued = issued
		return s.sched.OnIssueDateChanged(ctx, r, expiry.NewCard(card, nil))
	})
}

// SetWaiver records a signed waiver, creating it or moving its date.
func (s *CardService) SetWaiver(ctx context.Context, actor perm.Actor, combatantID int64, signed time.Time) (*model.Waiver, error) {
	if err := s.perms.Require(ctx, actor, perm.WriteWaiverDate, nil); err != nil {
		return nil, err
	}
	signed = clock.Today(signed)
	var w *model.Waiver
	err := s.store.InTx(ctx, func(r repository.Repos) error {
		var err error
		w, err = r.Waivers.GetByCombatant(ctx, combatantID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			w = &model.Waiver{CombatantID: combatantID, DateSigned: signed}
			if err := r.Waivers.Create(ctx, w); err != nil {
				return err
			}
		case err != nil:
			return err
		case w.DateSigned.Equal(signed):
			return nil
		default:
			if err := r.Waivers.UpdateSigned(ctx, w.ID, signed); err != nil {
				return err
			}
			w.DateSigned = signed
		}
		return s.sched.OnIssueDateChanged(ctx, r, expiry.NewWaiver(w, nil))
	})
	return w, err
}

// DeleteWaiver removes a combatant's waiver and its reminders.
func (s *CardService) DeleteWaiver(ctx context.Context, actor perm.Actor, combatantID int64) error {
	if err := s.perms.Require(ctx, actor, perm.WriteWaiverDate, nil); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(r repository.Repos) error {
		w, err := r.Waivers.GetByCombatant(ctx, combatantID)
		if err != nil {
			return err
		}
		if err := s.sched.OnEntityDeleted(ctx, r, model.OwnerRef{Kind: model.OwnerWaiver, ID: w.ID}); err != nil {
			return err
		}
		return r.Waivers.Delete(ctx, w.ID)
	})
}
