package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/config"
	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/obs"
	"github.com/and161185/emol/internal/repository"
)

// ConsumeResult is the outcome of consuming a one-time code.
type ConsumeResult string

const (
	ConsumeOK       ConsumeResult = "ok"
	ConsumeAlready  ConsumeResult = "already_consumed"
	ConsumeExpired  ConsumeResult = "expired"
	ConsumeNotFound ConsumeResult = "not_found"
)

var urlPaths = map[model.CodePurpose]string{
	model.PurposeInfoUpdate:        "/self-serve-update/{code}",
	model.PurposePINSetup:          "/pin/setup/{code}",
	model.PurposePINReset:          "/pin/reset/{code}",
	model.PurposePrivacyAcceptance: "/privacy-policy/{code}",
}

// CodeService issues and redeems one-time codes.
type CodeService struct {
	store      repository.Store
	clk        clock.Clock
	baseURL    string
	ttl        time.Duration
	privacyTTL time.Duration
	purgeAfter time.Duration
	log        *zap.Logger
	metrics    *obs.Metrics
}

// NewCodeService constructs a CodeService; baseURL prefixes every code URL.
func NewCodeService(store repository.Store, clk clock.Clock, baseURL string, cfg config.CodeSettings, log *zap.Logger, metrics *obs.Metrics) *CodeService {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = obs.Discard()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.PrivacyTTL <= 0 {
		cfg.PrivacyTTL = cfg.TTL
	}
	if cfg.PurgeAfterDays <= 0 {
		cfg.PurgeAfterDays = 7
	}
	return &CodeService{
		store:      store,
		clk:        clk,
		baseURL:    baseURL,
		ttl:        cfg.TTL,
		privacyTTL: cfg.PrivacyTTL,
		purgeAfter: time.Duration(cfg.PurgeAfterDays) * 24 * time.Hour,
		log:        log,
		metrics:    metrics,
	}
}

// TTL is how long a code issued for purpose stays valid.
func (s *CodeService) TTL(purpose model.CodePurpose) time.Duration {
	if purpose == model.PurposePrivacyAcceptance {
		return s.privacyTTL
	}
	return s.ttl
}

// Create issues a code for purpose.
func (s *CodeService) Create(ctx context.Context, combatantID int64, purpose model.CodePurpose) (*model.OneTimeCode, error) {
	return s.create(ctx, s.store.Repos(), combatantID, purpose)
}

func (s *CodeService) create(ctx context.Context, r repository.Repos, combatantID int64, purpose model.CodePurpose) (*model.OneTimeCode, error) {
	path, ok := urlPaths[purpose]
	if !ok {
		return nil, fmt.Errorf("unknown code purpose %q", purpose)
	}
	code, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	now := s.clk.Now()
	c := &model.OneTimeCode{
		CombatantID: combatantID,
		Code:        code,
		Purpose:     purpose,
		URLTemplate: s.baseURL + path,
		ExpiresAt:   now.Add(s.TTL(purpose)),
		CreatedAt:   now,
	}
	if err := r.Codes.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}
	return c, nil
}

// IsValid reports whether code exists, is unconsumed and unexpired.
func (s *CodeService) IsValid(ctx context.Context, code uuid.UUID) (bool, error) {
	c, err := s.store.Repos().Codes.Get(ctx, code)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.IsValid(s.clk.Now()), nil
}

// Consume marks code used. Exactly one concurrent caller observes ConsumeOK.
func (s *CodeService) Consume(ctx context.Context, code uuid.UUID) (ConsumeResult, error) {
	return s.consume(ctx, s.store.Repos(), code)
}

func (s *CodeService) consume(ctx context.Context, r repository.Repos, code uuid.UUID) (ConsumeResult, error) {
	now := s.clk.Now()
	ok, err := r.Codes.Consume(ctx, code, now)
	if err != nil {
		return "", err
	}
	if ok {
		return ConsumeOK, nil
	}
	c, err := r.Codes.Get(ctx, code)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return ConsumeNotFound, nil
	case err != nil:
		return "", err
	case c.Consumed:
		return ConsumeAlready, nil
	default:
		return ConsumeExpired, nil
	}
}

// redeem consumes a code for purpose inside r and returns it; any other outcome is errs.ErrCodeInvalid.
func (s *CodeService) redeem(ctx context.Context, r repository.Repos, code uuid.UUID, purposes ...model.CodePurpose) (*model.OneTimeCode, error) {
	c, err := r.Codes.Get(ctx, code)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(purposes, c.Purpose) {
		return nil, fmt.Errorf("%w: code issued for %s", errs.ErrCodeInvalid, c.Purpose)
	}
	res, err := s.consume(ctx, r, code)
	if err != nil {
		return nil, err
	}
	if res != ConsumeOK {
		return nil, fmt.Errorf("%w: %s", errs.ErrCodeInvalid, res)
	}
	return c, nil
}

// Purge deletes expired and consumed codes and anything older than the retention window.
func (s *CodeService) Purge(ctx context.Context) (int64, error) {
	now := s.clk.Now()
	n, err := s.store.Repos().Codes.Purge(ctx, now, now.Add(-s.purgeAfter))
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	s.metrics.Purged(n)
	s.log.Info("one-time codes purged", zap.Int64("deleted", n))
	return n, nil
}
