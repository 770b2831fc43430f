package postgres

import (
	"context"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// FeatureSwitchRepo implements FeatureSwitchRepository using PostgreSQL.
type FeatureSwitchRepo struct{ q Querier }

// NewFeatureSwitchRepo constructs a feature switch repository.
func NewFeatureSwitchRepo(q Querier) *FeatureSwitchRepo { return &FeatureSwitchRepo{q: q} }

func (r *FeatureSwitchRepo) Get(ctx context.Context, name string) (*model.FeatureSwitch, error) {
	const q = `SELECT name, description, mode, allowed, updated_at FROM feature_switches WHERE name=$1`
	var (
		fs   model.FeatureSwitch
		mode string
	)
	if err := r.q.QueryRow(ctx, q, name).Scan(&fs.Name, &fs.Description, &mode, &fs.Allowed, &fs.UpdatedAt); err != nil {
		return nil, noRows(err)
	}
	fs.Mode = model.SwitchMode(mode)
	return &fs, nil
}

func (r *FeatureSwitchRepo) Upsert(ctx context.Context, fs *model.FeatureSwitch) error {
	const q = `
INSERT INTO feature_switches (name, description, mode, allowed, updated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (name) DO UPDATE
SET description=EXCLUDED.description, mode=EXCLUDED.mode, allowed=EXCLUDED.allowed, updated_at=now()
RETURNING updated_at`
	allowed := fs.Allowed
	if allowed == nil {
		allowed = []int64{}
	}
	return r.q.QueryRow(ctx, q, fs.Name, fs.Description, string(fs.Mode), allowed).Scan(&fs.UpdatedAt)
}

// PermissionRepo implements PermissionRepository using PostgreSQL.
type PermissionRepo struct{ q Querier }

// NewPermissionRepo constructs a permission repository.
func NewPermissionRepo(q Querier) *PermissionRepo { return &PermissionRepo{q: q} }

// Has checks a global grant, or a grant scoped to disciplineID.
func (r *PermissionRepo) Has(ctx context.Context, userID int64, slug string, disciplineID *int64) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
  WHERE up.user_id=$1 AND p.slug=$2
    AND (p.global OR up.discipline_id = $3)
)`
	var ok bool
	if err := r.q.QueryRow(ctx, q, userID, slug, disciplineID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Grant assigns a permission idempotently; the discipline is stored only for scoped permissions.
func (r *PermissionRepo) Grant(ctx context.Context, userID int64, slug string, disciplineID *int64) error {
	const q = `
WITH p AS (SELECT id, global FROM permissions WHERE slug=$2),
ins AS (
  INSERT INTO user_permissions (user_id, permission_id, discipline_id)
  SELECT $1, p.id, CASE WHEN p.global THEN NULL ELSE $3::bigint END FROM p
  ON CONFLICT DO NOTHING
)
SELECT count(*) FROM p`
	var n int
	if err := r.q.QueryRow(ctx, q, userID, slug, disciplineID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
