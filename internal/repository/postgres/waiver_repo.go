package postgres

import (
	"context"
	"time"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// WaiverRepo implements WaiverRepository using PostgreSQL.
type WaiverRepo struct{ q Querier }

// NewWaiverRepo constructs a waiver repository.
func NewWaiverRepo(q Querier) *WaiverRepo { return &WaiverRepo{q: q} }

func (r *WaiverRepo) Create(ctx context.Context, w *model.Waiver) error {
	const q = `INSERT INTO waivers (combatant_id, date_signed) VALUES ($1,$2) RETURNING id`
	err := r.q.QueryRow(ctx, q, w.CombatantID, w.DateSigned).Scan(&w.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func (r *WaiverRepo) get(ctx context.Context, where string, arg any) (*model.Waiver, error) {
	var w model.Waiver
	err := r.q.QueryRow(ctx, `SELECT id, combatant_id, date_signed FROM waivers WHERE `+where, arg).
		Scan(&w.ID, &w.CombatantID, &w.DateSigned)
	if err != nil {
		return nil, noRows(err)
	}
	return &w, nil
}

func (r *WaiverRepo) Get(ctx context.Context, id int64) (*model.Waiver, error) {
	return r.get(ctx, `id=$1`, id)
}

func (r *WaiverRepo) GetByCombatant(ctx context.Context, combatantID int64) (*model.Waiver, error) {
	return r.get(ctx, `combatant_id=$1`, combatantID)
}

func (r *WaiverRepo) ListAll(ctx context.Context) ([]*model.Waiver, error) {
	rows, err := r.q.Query(ctx, `SELECT id, combatant_id, date_signed FROM waivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Waiver
	for rows.Next() {
		var w model.Waiver
		if err := rows.Scan(&w.ID, &w.CombatantID, &w.DateSigned); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (r *WaiverRepo) UpdateSigned(ctx context.Context, id int64, signed time.Time) error {
	return affected(r.q.Exec(ctx, `UPDATE waivers SET date_signed=$2 WHERE id=$1`, id, signed))
}

func (r *WaiverRepo) Delete(ctx context.Context, id int64) error {
	return affected(r.q.Exec(ctx, `DELETE FROM waivers WHERE id=$1`, id))
}
