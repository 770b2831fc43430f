// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/emol/internal/model"
)

// CombatantRepository provides access to combatants and their PIN state.
type CombatantRepository interface {
	// Create inserts a combatant and sets its ID.
	Create(ctx context.Context, c *model.Combatant) error
	// Get loads a combatant by ID.
	Get(ctx context.Context, id int64) (*model.Combatant, error)
	// GetByCardID loads an accepted combatant by card id.
	GetByCardID(ctx context.Context, cardID string) (*model.Combatant, error)
	// ListByEmail returns every combatant sharing an email address (case-insensitive).
	ListByEmail(ctx context.Context, email string) ([]*model.Combatant, error)
	// ListWithoutPIN returns accepted combatants that have no PIN, oldest first; limit <= 0 means all.
	ListWithoutPIN(ctx context.Context, limit int) ([]*model.Combatant, error)
	// UpdateInfo replaces the self-serve contact fields.
	UpdateInfo(ctx context.Context, id int64, u model.InfoUpdate) error
	// AcceptPrivacy sets privacy_accepted and card_id; ErrAlreadyExists when the card id is taken.
	AcceptPrivacy(ctx context.Context, id int64, cardID string) error
	// SetPIN stores a PIN hash and clears the failure counter and lockout.
	SetPIN(ctx context.Context, id int64, hash string) error
	// ClearPIN removes the PIN hash and clears the failure counter and lockout.
	ClearPIN(ctx context.Context, id int64) error
	// Delete removes a combatant; cards, waiver and codes cascade.
	Delete(ctx context.Context, id int64) error
}

// DisciplineRepository reads the discipline taxonomy.
type DisciplineRepository interface {
	Get(ctx context.Context, id int64) (*model.Discipline, error)
	List(ctx context.Context) ([]*model.Discipline, error)
	GetAuthorization(ctx context.Context, id int64) (*model.Authorization, error)
	GetMarshal(ctx context.Context, id int64) (*model.Marshal, error)
}

// CardRepository provides access to cards and the authorizations and warrants they carry.
type CardRepository interface {
	// Create inserts a card and sets its ID; ErrAlreadyExists for a duplicate (combatant, discipline).
	Create(ctx context.Context, c *model.Card) error
	Get(ctx context.Context, id int64) (*model.Card, error)
	GetFor(ctx context.Context, combatantID, disciplineID int64) (*model.Card, error)
	ListByCombatant(ctx context.Context, combatantID int64) ([]*model.Card, error)
	ListAll(ctx context.Context) ([]*model.Card, error)
	UpdateIssued(ctx context.Context, id int64, issued time.Time) error
	Delete(ctx context.Context, id int64) error

	AddAuthorization(ctx context.Context, cardID, authorizationID int64) error
	RemoveAuthorization(ctx context.Context, cardID, authorizationID int64) error
	AddWarrant(ctx context.Context, cardID, marshalID int64) error
	RemoveWarrant(ctx context.Context, cardID, marshalID int64) error
	// Counts returns how many authorizations and warrants a card carries.
	Counts(ctx context.Context, cardID int64) (authorizations, warrants int, err error)
}

// WaiverRepository provides access to waivers (at most one per combatant).
type WaiverRepository interface {
	Create(ctx context.Context, w *model.Waiver) error
	Get(ctx context.Context, id int64) (*model.Waiver, error)
	GetByCombatant(ctx context.Context, combatantID int64) (*model.Waiver, error)
	ListAll(ctx context.Context) ([]*model.Waiver, error)
	UpdateSigned(ctx context.Context, id int64, signed time.Time) error
	Delete(ctx context.Context, id int64) error
}

// ReminderRepository stores pending reminders keyed by owner and lead day.
type ReminderRepository interface {
	// LockOwner serializes reminder rebuilds for one owner until the surrounding transaction ends.
	LockOwner(ctx context.Context, owner model.OwnerRef) error
	// Create inserts a reminder and sets its ID; ErrAlreadyExists for a duplicate (kind, owner, days).
	Create(ctx context.Context, r *model.Reminder) error
	DeleteForOwner(ctx context.Context, owner model.OwnerRef) (int64, error)
	ListForOwner(ctx context.Context, owner model.OwnerRef) ([]model.Reminder, error)
	// ListDue returns reminders with due_date <= today ordered by kind, owner, due date.
	ListDue(ctx context.Context, today time.Time) ([]model.Reminder, error)
	// ListOrphans returns reminders whose owner row no longer exists.
	ListOrphans(ctx context.Context) ([]model.Reminder, error)
	// Delete removes one reminder and reports whether it was still present.
	Delete(ctx context.Context, id int64) (bool, error)
}

// CodeRepository stores one-time codes.
type CodeRepository interface {
	Create(ctx context.Context, c *model.OneTimeCode) error
	Get(ctx context.Context, code uuid.UUID) (*model.OneTimeCode, error)
	// Consume marks an unconsumed, unexpired code consumed; exactly one concurrent caller gets true.
	Consume(ctx context.Context, code uuid.UUID, now time.Time) (bool, error)
	// Purge deletes expired or consumed codes and any created before olderThan.
	Purge(ctx context.Context, now, olderThan time.Time) (int64, error)
}

// FeatureSwitchRepository stores feature switches.
type FeatureSwitchRepository interface {
	Get(ctx context.Context, name string) (*model.FeatureSwitch, error)
	Upsert(ctx context.Context, fs *model.FeatureSwitch) error
}

// PermissionRepository answers whether a user holds a permission.
type PermissionRepository interface {
	// Has reports whether userID holds slug globally, or for disciplineID when it is non-nil.
	Has(ctx context.Context, userID int64, slug string, disciplineID *int64) (bool, error)
	// Grant assigns a permission; disciplineID must be nil for global permissions.
	Grant(ctx context.Context, userID int64, slug string, disciplineID *int64) error
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Combatants  CombatantRepository
	Disciplines DisciplineRepository
	Cards       CardRepository
	Waivers     WaiverRepository
	Reminders   ReminderRepository
	Codes       CodeRepository
	Switches    FeatureSwitchRepository
	Permissions PermissionRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	// Repos returns repositories outside any transaction.
	Repos() Repos
	// InTx runs fn in a transaction; a returned error rolls everything back.
	InTx(ctx context.Context, fn func(r Repos) error) error
}
