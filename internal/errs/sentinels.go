// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (duplicate reminder tuple, card per discipline).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidFormat indicates a PIN that does not match the required format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrSendFailed indicates the email gateway did not accept a message; the caller may retry later.
	ErrSendFailed = errors.New("send failed")

	// ErrPermissionDenied indicates the acting user lacks a required permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrOrphan indicates a reminder whose owner no longer exists.
	ErrOrphan = errors.New("orphaned reminder")

	// ErrCodeInvalid indicates a one-time code that is unknown, consumed, or expired.
	ErrCodeInvalid = errors.New("invalid or expired code")

	// ErrPrivacyNotAccepted indicates an operation that requires an accepted privacy policy.
	ErrPrivacyNotAccepted = errors.New("privacy policy not accepted")

	// ErrPINMismatch indicates the PIN and its confirmation differ.
	ErrPINMismatch = errors.New("pins do not match")

	// ErrLocked indicates a failed attempt against a combatant another attempt has already locked out.
	ErrLocked = errors.New("locked out")

	// ErrFeatureDisabled indicates the requested flow is switched off.
	ErrFeatureDisabled = errors.New("feature disabled")
)
