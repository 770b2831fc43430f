// Package perm checks an explicit acting user against stored permissions.
package perm

import (
	"context"
	"fmt"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/repository"
)

// Permission slugs.
const (
	ReadCombatantInfo   = "read_combatant_info"
	WriteCombatantInfo  = "write_combatant_info"
	WriteWaiverDate     = "write_waiver_date"
	WriteCardDate       = "write_card_date"
	WriteAuthorizations = "write_authorizations"
	WriteMarshal        = "write_marshal"
	CanInitiatePINReset = "can_initiate_pin_reset"
)

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID    int64
	Superuser bool
}

// System acts for operator tooling and periodic tasks.
var System = Actor{Superuser: true}

// Checker answers permission questions.
type Checker struct {
	repo repository.PermissionRepository
}

// NewChecker returns a Checker over repo.
func NewChecker(repo repository.PermissionRepository) *Checker {
	return &Checker{repo: repo}
}

// Require returns errs.ErrPermissionDenied unless a holds slug globally or for disciplineID.
func (c *Checker) Require(ctx context.Context, a Actor, slug string, disciplineID *int64) error {
	if a.Superuser {
		return nil
	}
	ok, err := c.repo.Has(ctx, a.UserID, slug, disciplineID)
	if err != nil {
		return fmt.Errorf("check %s: %w", slug, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrPermissionDenied, slug)
	}
	return nil
}
