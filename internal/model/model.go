// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Combatant is a member who holds cards and a waiver.
type Combatant struct {
	ID              int64
	UUID            uuid.UUID
	CardID          string // heraldic slug, set only after privacy acceptance
	Email           string // shared across family members, not unique
	SCAName         string
	LegalName       string
	Phone           string
	Address1        string
	Address2        string
	City            string
	Province        string
	PostalCode      string
	PrivacyAccepted bool

	PINHash           string // empty when no PIN is set
	PINFailedAttempts int
	PINLockedUntil    *time.Time

	LastUpdate time.Time
}

// Name returns the SCA name when present, otherwise the legal name.
func (c *Combatant) Name() string {
	if strings.TrimSpace(c.SCAName) != "" {
		return c.SCAName
	}
	return c.LegalName
}

// HasPIN reports whether a PIN hash is stored.
func (c *Combatant) HasPIN() bool { return c.PINHash != "" }

// IsLockedOut reports whether PIN verification is blocked at now.
func (c *Combatant) IsLockedOut(now time.Time) bool {
	return c.PINLockedUntil != nil && now.Before(*c.PINLockedUntil)
}

// InfoUpdate carries self-serve editable contact fields.
type InfoUpdate struct {
	Email      string
	SCAName    string
	LegalName  string
	Phone      string
	Address1   string
	Address2   string
	City       string
	Province   string
	PostalCode string
}

// Discipline is a martial discipline (armoured combat, rapier, ...).
type Discipline struct {
	ID   int64
	Name string
	Slug string
}

// Authorization is a per-discipline capability tag.
type Authorization struct {
	ID           int64
	DisciplineID int64
	Name         string
	Slug         string
	IsPrimary    bool
}

// Marshal is a per-discipline marshal warrant type.
type Marshal struct {
	ID           int64
	DisciplineID int64
	Name         string
	Slug         string
}

// Card holds a combatant's authorizations and warrants for one discipline.
type Card struct {
	ID             int64
	CombatantID    int64
	DisciplineID   int64
	DisciplineName string // joined, read-only
	UUID           uuid.UUID
	DateIssued     time.Time
}

// Waiver is a combatant's liability release.
type Waiver struct {
	ID          int64
	CombatantID int64
	DateSigned  time.Time
}

// OwnerKind tags the entity a reminder belongs to.
type OwnerKind string

const (
	OwnerCard   OwnerKind = "card"
	OwnerWaiver OwnerKind = "waiver"
)

// OwnerRef is a weak reference to an expiring entity.
type OwnerRef struct {
	Kind OwnerKind
	ID   int64
}

// Reminder is a pending notification for an expiring entity.
type Reminder struct {
	ID           int64
	Owner        OwnerRef
	DaysToExpiry int // 0 means expiry notice
	DueDate      time.Time
}

// IsExpiryNotice reports whether the reminder announces the expiry itself.
func (r Reminder) IsExpiryNotice() bool { return r.DaysToExpiry == 0 }

// CodePurpose names the flow a one-time code resumes.
type CodePurpose string

const (
	PurposeInfoUpdate        CodePurpose = "info_update"
	PurposePINSetup          CodePurpose = "pin_setup"
	PurposePINReset          CodePurpose = "pin_reset"
	PurposePrivacyAcceptance CodePurpose = "privacy_acceptance"
)

// OneTimeCode is a short-lived single-use bearer token bound to a combatant.
type OneTimeCode struct {
	ID          int64
	CombatantID int64
	Code        uuid.UUID
	Purpose     CodePurpose
	URLTemplate string // contains a {code} placeholder
	ExpiresAt   time.Time
	Consumed    bool
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// URL substitutes the code into the URL template.
func (c *OneTimeCode) URL() string {
	return strings.ReplaceAll(c.URLTemplate, "{code}", c.Code.String())
}

// IsValid reports whether the code can still be consumed at now.
func (c *OneTimeCode) IsValid(now time.Time) bool {
	return !c.Consumed && now.Before(c.ExpiresAt)
}

// Permission is a slug-named capability, either global or discipline-scoped.
type Permission struct {
	ID     int64
	Slug   string
	Name   string
	Global bool
}

// UserPermission assigns a permission to a user; DisciplineID is set iff the permission is not global.
type UserPermission struct {
	ID           int64
	UserID       int64
	PermissionID int64
	DisciplineID *int64
}

// SwitchMode is how a feature switch decides enablement.
type SwitchMode string

const (
	SwitchDisabled SwitchMode = "disabled"
	SwitchGlobal   SwitchMode = "global"
	SwitchList     SwitchMode = "list"
)

// FeatureSwitch gates a feature globally or for a list of combatants.
type FeatureSwitch struct {
	Name        string
	Description string
	Mode        SwitchMode
	Allowed     []int64 // combatant ids, used in list mode
	UpdatedAt   time.Time
}
