// Package feature decides whether a named feature is enabled, globally or for one combatant.
package feature

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

// PINAuthentication gates PIN-protected card access.
const PINAuthentication = "pin_authentication"

// Gate is the only way code asks whether a feature is on.
type Gate interface {
	// Enabled reports whether name is on globally.
	Enabled(ctx context.Context, name string) bool
	// EnabledFor reports whether name is on for a combatant.
	EnabledFor(ctx context.Context, name string, combatantID int64) bool
}

// Cache stores switches for a short time.
type Cache interface {
	Get(ctx context.Context, name string) (*model.FeatureSwitch, bool, error)
	Set(ctx context.Context, fs *model.FeatureSwitch, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}

// Switches reads switches from storage through a cache.
type Switches struct {
	repo  repository.FeatureSwitchRepository
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

var _ Gate = (*Switches)(nil)

// NewSwitches builds a gate. A nil cache means an in-process cache.
func NewSwitches(repo repository.FeatureSwitchRepository, cache Cache, ttl time.Duration, log *zap.Logger) *Switches {
	if log == nil {
		log = zap.NewNop()
	}
	if cache == nil {
		cache = NewLocalCache()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Switches{repo: repo, cache: cache, ttl: ttl, log: log}
}

// Enabled is true only in global mode.
func (s *Switches) Enabled(ctx context.Context, name string) bool {
	fs := s.lookup(ctx, name)
	return fs != nil && fs.Mode == model.SwitchGlobal
}

// EnabledFor is true in global mode, or in list mode when the combatant is listed.
func (s *Switches) EnabledFor(ctx context.Context, name string, combatantID int64) bool {
	fs := s.lookup(ctx, name)
	if fs == nil {
		return false
	}
	switch fs.Mode {
	case model.SwitchGlobal:
		return true
	case model.SwitchList:
		return slices.Contains(fs.Allowed, combatantID)
	default:
		return false
	}
}

// Set stores a switch and drops the cached copy.
func (s *Switches) Set(ctx context.Context, fs *model.FeatureSwitch) error {
	switch fs.Mode {
	case model.SwitchDisabled, model.SwitchGlobal, model.SwitchList:
	default:
		return errs.ErrInvalidFormat
	}
	if err := s.repo.Upsert(ctx, fs); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, fs.Name); err != nil {
		s.log.Warn("feature cache invalidate failed", zap.String("switch", fs.Name), zap.Error(err))
	}
	return nil
}

// lookup returns nil for a missing switch or a storage failure; both read as disabled.
func (s *Switches) lookup(ctx context.Context, name string) *model.FeatureSwitch {
	fs, ok, err := s.cache.Get(ctx, name)
	if err != nil {
		s.log.Warn("feature cache read failed", zap.String("switch", name), zap.Error(err))
	}
	if ok {
		return fs
	}

	fs, err = s.repo.Get(ctx, name)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.log.Warn("feature switch missing, treating as disabled", zap.String("switch", name))
		return nil
	case err != nil:
		s.log.Error("feature switch lookup failed", zap.String("switch", name), zap.Error(err))
		return nil
	}
	if err := s.cache.Set(ctx, fs, s.ttl); err != nil {
		s.log.Warn("feature cache write failed", zap.String("switch", name), zap.Error(err))
	}
	return fs
}
