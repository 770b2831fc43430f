package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

// CardRepo implements CardRepository using PostgreSQL.
type CardRepo struct{ q Querier }

// NewCardRepo constructs a card repository.
func NewCardRepo(q Querier) *CardRepo { return &CardRepo{q: q} }

const cardSelect = `
SELECT c.id, c.combatant_id, c.discipline_id, d.name, c.uuid, c.date_issued
FROM cards c JOIN disciplines d ON d.id = c.discipline_id`

func scanCard(row pgx.Row) (*model.Card, error) {
	var c model.Card
	if err := row.Scan(&c.ID, &c.CombatantID, &c.DisciplineID, &c.DisciplineName, &c.UUID, &c.DateIssued); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CardRepo) list(ctx context.Context, sql string, args ...any) ([]*model.Card, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a card; the (combatant, discipline) pair is unique.
func (r *CardRepo) Create(ctx context.Context, c *model.Card) error {
	const q = `INSERT INTO cards (combatant_id, discipline_id, uuid, date_issued) VALUES ($1,$2,$3,$4) RETURNING id`
	err := r.q.QueryRow(ctx, q, c.CombatantID, c.DisciplineID, c.UUID, c.DateIssued).Scan(&c.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a card by ID.
func (r *CardRepo) Get(ctx context.Context, id int64) (*model.Card, error) {
	c, err := scanCard(r.q.QueryRow(ctx, cardSelect+` WHERE c.id=$1`, id))
	if err != nil {
		return nil, noRows(err)
	}
	return c, nil
}

// GetFor selects the card of a combatant for one discipline.
func (r *CardRepo) GetFor(ctx context.Context, combatantID, disciplineID int64) (*model.Card, error) {
	c, err := scanCard(r.q.QueryRow(ctx, cardSelect+` WHERE c.combatant_id=$1 AND c.discipline_id=$2`, combatantID, disciplineID))
	if err != nil {
		return nil, noRows(err)
	}
	return c, nil
}

// ListByCombatant selects all cards of a combatant.
func (r *CardRepo) ListByCombatant(ctx context.Context, combatantID int64) ([]*model.Card, error) {
	return r.list(ctx, cardSelect+` WHERE c.combatant_id=$1 ORDER BY c.id`, combatantID)
}

// ListAll selects every card.
func (r *CardRepo) ListAll(ctx context.Context) ([]*model.Card, error) {
	return r.list(ctx, cardSelect+` ORDER BY c.id`)
}

// UpdateIssued changes the issue date.
func (r *CardRepo) UpdateIssued(ctx context.Context, id int64, issued time.Time) error {
	return affected(r.q.Exec(ctx, `UPDATE cards SET date_issued=$2 WHERE id=$1`, id, issued))
}

// Delete removes a card; its authorizations and warrants cascade.
func (r *CardRepo) Delete(ctx context.Context, id int64) error {
	return affected(r.q.Exec(ctx, `DELETE FROM cards WHERE id=$1`, id))
}

// AddAuthorization attaches an authorization; attaching twice is a no-op.
func (r *CardRepo) AddAuthorization(ctx context.Context, cardID, authorizationID int64) error {
	const q = `INSERT INTO combatant_authorizations (card_id, authorization_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	_, err := r.q.Exec(ctx, q, cardID, authorizationID)
	return err
}

// RemoveAuthorization detaches an authorization.
func (r *CardRepo) RemoveAuthorization(ctx context.Context, cardID, authorizationID int64) error {
	const q = `DELETE FROM combatant_authorizations WHERE card_id=$1 AND authorization_id=$2`
	return affected(r.q.Exec(ctx, q, cardID, authorizationID))
}

// AddWarrant attaches a marshal warrant; attaching twice is a no-op.
func (r *CardRepo) AddWarrant(ctx context.Context, cardID, marshalID int64) error {
	const q = `INSERT INTO combatant_warrants (card_id, marshal_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	_, err := r.q.Exec(ctx, q, cardID, marshalID)
	return err
}

// RemoveWarrant detaches a marshal warrant.
func (r *CardRepo) RemoveWarrant(ctx context.Context, cardID, marshalID int64) error {
	const q = `DELETE FROM combatant_warrants WHERE card_id=$1 AND marshal_id=$2`
	return affected(r.q.Exec(ctx, q, cardID, marshalID))
}

// Counts returns the number of authorizations and warrants on a card.
func (r *CardRepo) Counts(ctx context.Context, cardID int64) (int, int, error) {
	const q = `
SELECT (SELECT count(*) FROM combatant_authorizations WHERE card_id=$1),
       (SELECT count(*) FROM combatant_warrants WHERE card_id=$1)`
	var a, w int
	if err := r.q.QueryRow(ctx, q, cardID).Scan(&a, &w); err != nil {
		return 0, 0, err
	}
	return a, w, nil
}

// DisciplineRepo implements DisciplineRepository using PostgreSQL.
type DisciplineRepo struct{ q Querier }

// NewDisciplineRepo constructs a discipline repository.
func NewDisciplineRepo(q Querier) *DisciplineRepo { return &DisciplineRepo{q: q} }

func (r *DisciplineRepo) Get(ctx context.Context, id int64) (*model.Discipline, error) {
	var d model.Discipline
	if err := r.q.QueryRow(ctx, `SELECT id, name, slug FROM disciplines WHERE id=$1`, id).Scan(&d.ID, &d.Name, &d.Slug); err != nil {
		return nil, noRows(err)
	}
	return &d, nil
}

func (r *DisciplineRepo) List(ctx context.Context) ([]*model.Discipline, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, slug FROM disciplines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Discipline
	for rows.Next() {
		var d model.Discipline
		if err := rows.Scan(&d.ID, &d.Name, &d.Slug); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *DisciplineRepo) GetAuthorization(ctx context.Context, id int64) (*model.Authorization, error) {
	const q = `SELECT id, discipline_id, name, slug, is_primary FROM authorizations WHERE id=$1`
	var a model.Authorization
	if err := r.q.QueryRow(ctx, q, id).Scan(&a.ID, &a.DisciplineID, &a.Name, &a.Slug, &a.IsPrimary); err != nil {
		return nil, noRows(err)
	}
	return &a, nil
}

func (r *DisciplineRepo) GetMarshal(ctx context.Context, id int64) (*model.Marshal, error) {
	const q = `SELECT id, discipline_id, name, slug FROM marshals WHERE id=$1`
	var m model.Marshal
	if err := r.q.QueryRow(ctx, q, id).Scan(&m.ID, &m.DisciplineID, &m.Name, &m.Slug); err != nil {
		return nil, noRows(err)
	}
	return &m, nil
}
