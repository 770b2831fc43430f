package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// CodeRepo implements CodeRepository using PostgreSQL.
type CodeRepo struct{ q Querier }

// NewCodeRepo constructs a one-time code repository.
func NewCodeRepo(q Querier) *CodeRepo { return &CodeRepo{q: q} }

// Create inserts a code.
func (r *CodeRepo) Create(ctx context.Context, c *model.OneTimeCode) error {
	const q = `
INSERT INTO one_time_codes (combatant_id, code, purpose, url_template, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`
	err := r.q.QueryRow(ctx, q, c.CombatantID, c.Code, string(c.Purpose), c.URLTemplate, c.ExpiresAt, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a code by value.
func (r *CodeRepo) Get(ctx context.Context, code uuid.UUID) (*model.OneTimeCode, error) {
	const q = `
SELECT id, combatant_id, code, purpose, url_template, expires_at, consumed, consumed_at, created_at
FROM one_time_codes WHERE code=$1`
	var (
		c       model.OneTimeCode
		purpose string
	)
	err := r.q.QueryRow(ctx, q, code).Scan(&c.ID, &c.CombatantID, &c.Code, &purpose, &c.URLTemplate,
		&c.ExpiresAt, &c.Consumed, &c.ConsumedAt, &c.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	c.Purpose = model.CodePurpose(purpose)
	return &c, nil
}

// Consume flips consumed in one conditional statement so only one caller wins.
func (r *CodeRepo) Consume(ctx context.Context, code uuid.UUID, now time.Time) (bool, error) {
	const q = `
UPDATE one_time_codes SET consumed=true, consumed_at=$2
WHERE code=$1 AND NOT consumed AND expires_at > $2`
	tag, err := r.q.Exec(ctx, q, code, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Purge deletes dead codes and anything created before olderThan.
func (r *CodeRepo) Purge(ctx context.Context, now, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM one_time_codes WHERE expires_at <= $1 OR consumed OR created_at < $2`
	tag, err := r.q.Exec(ctx, q, now, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
