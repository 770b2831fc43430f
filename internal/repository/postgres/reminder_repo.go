package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// ReminderRepo implements ReminderRepository using PostgreSQL.
type ReminderRepo struct{ q Querier }

// NewReminderRepo constructs a reminder repository.
func NewReminderRepo(q Querier) *ReminderRepo { return &ReminderRepo{q: q} }

const reminderCols = `r.id, r.kind, r.owner_id, r.days_to_expiry, r.due_date`

// LockOwner takes a transaction-scoped advisory lock keyed by the owner.
func (r *ReminderRepo) LockOwner(ctx context.Context, owner model.OwnerRef) error {
	key := fmt.Sprintf("reminders:%s:%d", owner.Kind, owner.ID)
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

// Create inserts a reminder.
func (r *ReminderRepo) Create(ctx context.Context, rem *model.Reminder) error {
	const q = `
INSERT INTO reminders (kind, owner_id, days_to_expiry, due_date)
VALUES ($1,$2,$3,$4)
RETURNING id`
	err := r.q.QueryRow(ctx, q, string(rem.Owner.Kind), rem.Owner.ID, rem.DaysToExpiry, rem.DueDate).Scan(&rem.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// DeleteForOwner removes every reminder of an owner.
func (r *ReminderRepo) DeleteForOwner(ctx context.Context, owner model.OwnerRef) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM reminders WHERE kind=$1 AND owner_id=$2`, string(owner.Kind), owner.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListForOwner returns an owner's reminders, furthest lead day first.
func (r *ReminderRepo) ListForOwner(ctx context.Context, owner model.OwnerRef) ([]model.Reminder, error) {
	return r.list(ctx, `SELECT `+reminderCols+` FROM reminders r WHERE r.kind=$1 AND r.owner_id=$2 ORDER BY r.days_to_expiry DESC`,
		string(owner.Kind), owner.ID)
}

// ListDue returns reminders due on or before today.
func (r *ReminderRepo) ListDue(ctx context.Context, today time.Time) ([]model.Reminder, error) {
	return r.list(ctx, `SELECT `+reminderCols+` FROM reminders r WHERE r.due_date <= $1 ORDER BY r.kind, r.owner_id, r.due_date`, today)
}

// ListOrphans returns reminders whose card or waiver is gone.
func (r *ReminderRepo) ListOrphans(ctx context.Context) ([]model.Reminder, error) {
	const q = `
SELECT ` + reminderCols + `
FROM reminders r
LEFT JOIN cards c ON r.kind='card' AND c.id=r.owner_id
LEFT JOIN waivers w ON r.kind='waiver' AND w.id=r.owner_id
WHERE c.id IS NULL AND w.id IS NULL
ORDER BY r.id`
	return r.list(ctx, q)
}

// Delete removes one reminder; false means another worker already took it.
func (r *ReminderRepo) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM reminders WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ReminderRepo) list(ctx context.Context, sql string, args ...any) ([]model.Reminder, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		var (
			rem  model.Reminder
			kind string
		)
		if err := rows.Scan(&rem.ID, &kind, &rem.Owner.ID, &rem.DaysToExpiry, &rem.DueDate); err != nil {
			return nil, err
		}
		rem.Owner.Kind = model.OwnerKind(kind)
		out = append(out, rem)
	}
	return out, rows.Err()
}
