package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
	"github.com/and161185/emol/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var combatantColNames = []string{
	"id", "uuid", "card_id", "email", "sca_name", "legal_name", "phone", "address1", "address2",
	"city", "province", "postal_code", "privacy_accepted", "pin_hash", "pin_failed_attempts", "pin_locked_until", "last_update",
}

func combatantRow(rows *pgxmock.Rows, id int64, email string, lockedUntil *time.Time) *pgxmock.Rows {
	return rows.AddRow(id, uuid.Must(uuid.NewV4()), "", email, "Aelfric", "Alfred Smith", "", "", "", "", "", "",
		false, "", 0, lockedUntil, time.Now().UTC())
}

func TestCombatantRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombatantRepo(db.Pool)
	ctx := context.Background()
	c := &model.Combatant{UUID: uuid.Must(uuid.NewV4()), Email: "a@example.org", LegalName: "Alfred Smith"}

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO combatants`).
		WithArgs(c.UUID, "", c.Email, "", c.LegalName, "", "", "", "", "", "", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "last_update"}).AddRow(int64(42), now))
	require.NoError(t, r.Create(ctx, c))
	require.Equal(t, int64(42), c.ID)

	mock.ExpectQuery(`INSERT INTO combatants`).
		WithArgs(c.UUID, "", c.Email, "", c.LegalName, "", "", "", "", "", "", false).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, c), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCombatantRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombatantRepo(db.Pool)
	ctx := context.Background()

	until := time.Now().UTC().Add(time.Minute)
	mock.ExpectQuery(`FROM combatants WHERE id=`).
		WithArgs(int64(7)).
		WillReturnRows(combatantRow(pgxmock.NewRows(combatantColNames), 7, "a@example.org", &until))
	c, err := r.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), c.ID)
	require.Equal(t, "Aelfric", c.Name())
	require.NotNil(t, c.PINLockedUntil)

	mock.ExpectQuery(`FROM combatants WHERE id=`).
		WithArgs(int64(8)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, 8)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCombatantRepo_GetByCardID_EmptyIsNotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	_, err := NewCombatantRepo(db.Pool).GetByCardID(context.Background(), "")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCombatantRepo_ListByEmail_ReturnsEveryMatch(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	rows := pgxmock.NewRows(combatantColNames)
	combatantRow(rows, 1, "family@example.org", nil)
	combatantRow(rows, 2, "family@example.org", nil)
	mock.ExpectQuery(`WHERE lower\(email\) = \$1 ORDER BY id`).
		WithArgs("family@example.org").
		WillReturnRows(rows)

	got, err := NewCombatantRepo(db.Pool).ListByEmail(context.Background(), "  Family@Example.org ")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].PINLockedUntil)
}

func TestCombatantRepo_ListWithoutPIN_Limit(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	mock.ExpectQuery(`WHERE privacy_accepted AND pin_hash = \$1 ORDER BY id LIMIT 10`).
		WithArgs("").
		WillReturnRows(combatantRow(pgxmock.NewRows(combatantColNames), 1, "a@example.org", nil))
	got, err := NewCombatantRepo(db.Pool).ListWithoutPIN(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`pin_hash = \$1 ORDER BY id$`).
		WithArgs("").
		WillReturnRows(pgxmock.NewRows(combatantColNames))
	got, err = NewCombatantRepo(db.Pool).ListWithoutPIN(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCombatantRepo_AcceptPrivacy(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombatantRepo(db.Pool)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE combatants SET privacy_accepted=true`).
		WithArgs(int64(1), "or-fess-sun").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.AcceptPrivacy(ctx, 1, "or-fess-sun"))

	mock.ExpectExec(`UPDATE combatants SET privacy_accepted=true`).
		WithArgs(int64(2), "or-fess-sun").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.AcceptPrivacy(ctx, 2, "or-fess-sun"), errs.ErrAlreadyExists)

	mock.ExpectExec(`UPDATE combatants SET privacy_accepted=true`).
		WithArgs(int64(3), "vert-pile-sun").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.AcceptPrivacy(ctx, 3, "vert-pile-sun"), errs.ErrNotFound)
}

func TestCombatantRepo_SetAndClearPIN(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombatantRepo(db.Pool)
	ctx := context.Background()

	mock.ExpectExec(`SET pin_hash=\$2, pin_failed_attempts=0, pin_locked_until=NULL`).
		WithArgs(int64(1), "$argon2id$x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetPIN(ctx, 1, "$argon2id$x"))

	mock.ExpectExec(`SET pin_hash='', pin_failed_attempts=0, pin_locked_until=NULL`).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.ClearPIN(ctx, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InTx_CommitAndRollback(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM combatants WHERE id=`).
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	require.NoError(t, db.InTx(ctx, func(r repository.Repos) error {
		return r.Combatants.Delete(ctx, 5)
	}))

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM combatants WHERE id=`).
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectRollback()
	err := db.InTx(ctx, func(r repository.Repos) error {
		if err := r.Combatants.Delete(ctx, 6); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
