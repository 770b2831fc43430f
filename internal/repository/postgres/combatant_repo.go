package postgres

import (
	"context"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// CombatantRepo implements CombatantRepository using PostgreSQL.
type CombatantRepo struct {
	q       Querier
	builder squirrel.StatementBuilderType
}

// NewCombatantRepo constructs a combatant repository.
func NewCombatantRepo(q Querier) *CombatantRepo {
	return &CombatantRepo{q: q, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

const combatantCols = `id, uuid, card_id, email, sca_name, legal_name, phone, address1, address2,
city, province, postal_code, privacy_accepted, pin_hash, pin_failed_attempts, pin_locked_until, last_update`

func scanCombatant(row pgx.Row) (*model.Combatant, error) {
	var c model.Combatant
	err := row.Scan(&c.ID, &c.UUID, &c.CardID, &c.Email, &c.SCAName, &c.LegalName, &c.Phone,
		&c.Address1, &c.Address2, &c.City, &c.Province, &c.PostalCode, &c.PrivacyAccepted,
		&c.PINHash, &c.PINFailedAttempts, &c.PINLockedUntil, &c.LastUpdate)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CombatantRepo) one(ctx context.Context, where string, arg any) (*model.Combatant, error) {
	c, err := scanCombatant(r.q.QueryRow(ctx, `SELECT `+combatantCols+` FROM combatants WHERE `+where, arg))
	if err != nil {
		return nil, noRows(err)
	}
	return c, nil
}

func (r *CombatantRepo) many(ctx context.Context, qb squirrel.SelectBuilder) ([]*model.Combatant, error) {
	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Combatant
	for rows.Next() {
		c, err := scanCombatant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a new combatant row.
func (r *CombatantRepo) Create(ctx context.Context, c *model.Combatant) error {
	const q = `
INSERT INTO combatants (uuid, card_id, email, sca_name, legal_name, phone, address1, address2,
  city, province, postal_code, privacy_accepted)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, last_update`
	err := r.q.QueryRow(ctx, q, c.UUID, c.CardID, c.Email, c.SCAName, c.LegalName, c.Phone,
		c.Address1, c.Address2, c.City, c.Province, c.PostalCode, c.PrivacyAccepted,
	).Scan(&c.ID, &c.LastUpdate)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a combatant by ID.
func (r *CombatantRepo) Get(ctx context.Context, id int64) (*model.Combatant, error) {
	return r.one(ctx, `id=$1`, id)
}

// GetByCardID selects an accepted combatant by card id.
func (r *CombatantRepo) GetByCardID(ctx context.Context, cardID string) (*model.Combatant, error) {
	if cardID == "" {
		return nil, errs.ErrNotFound
	}
	return r.one(ctx, `card_id=$1`, cardID)
}

// ListByEmail selects every combatant sharing the address.
func (r *CombatantRepo) ListByEmail(ctx context.Context, email string) ([]*model.Combatant, error) {
	return r.many(ctx, r.builder.
		Select(combatantCols).
		From("combatants").
		Where(squirrel.Eq{"lower(email)": strings.ToLower(strings.TrimSpace(email))}).
		OrderBy("id"))
}

// ListWithoutPIN selects accepted combatants with no PIN.
func (r *CombatantRepo) ListWithoutPIN(ctx context.Context, limit int) ([]*model.Combatant, error) {
	qb := r.builder.
		Select(combatantCols).
		From("combatants").
		Where("privacy_accepted").
		Where(squirrel.Eq{"pin_hash": ""}).
		OrderBy("id")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	return r.many(ctx, qb)
}

// UpdateInfo replaces the contact fields.
func (r *CombatantRepo) UpdateInfo(ctx context.Context, id int64, u model.InfoUpdate) error {
	const q = `
UPDATE combatants SET email=$2, sca_name=$3, legal_name=$4, phone=$5, address1=$6, address2=$7,
  city=$8, province=$9, postal_code=$10, last_update=now()
WHERE id=$1`
	return affected(r.q.Exec(ctx, q, id, u.Email, u.SCAName, u.LegalName, u.Phone,
		u.Address1, u.Address2, u.City, u.Province, u.PostalCode))
}

// AcceptPrivacy stores the card id and marks the policy accepted.
func (r *CombatantRepo) AcceptPrivacy(ctx context.Context, id int64, cardID string) error {
	const q = `UPDATE combatants SET privacy_accepted=true, card_id=$2, last_update=now() WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, id, cardID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return affected(tag, err)
}

// SetPIN stores the hash and clears the lockout state.
func (r *CombatantRepo) SetPIN(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE combatants SET pin_hash=$2, pin_failed_attempts=0, pin_locked_until=NULL WHERE id=$1`
	return affected(r.q.Exec(ctx, q, id, hash))
}

// ClearPIN drops the hash and clears the lockout state.
func (r *CombatantRepo) ClearPIN(ctx context.Context, id int64) error {
	const q = `UPDATE combatants SET pin_hash='', pin_failed_attempts=0, pin_locked_until=NULL WHERE id=$1`
	return affected(r.q.Exec(ctx, q, id))
}

// Delete removes the combatant row.
func (r *CombatantRepo) Delete(ctx context.Context, id int64) error {
	return affected(r.q.Exec(ctx, `DELETE FROM combatants WHERE id=$1`, id))
}
