package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/model"
)

func TestCodeRepo_CreateAndGet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCodeRepo(db.Pool)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	code := uuid.Must(uuid.NewV4())

	c := &model.OneTimeCode{
		CombatantID: 1, Code: code, Purpose: model.PurposePINSetup,
		URLTemplate: "https://emol/pin/setup/{code}", ExpiresAt: now.Add(24 * time.Hour), CreatedAt: now,
	}
	mock.ExpectQuery(`INSERT INTO one_time_codes`).
		WithArgs(int64(1), code, "pin_setup", c.URLTemplate, c.ExpiresAt, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	require.NoError(t, r.Create(ctx, c))
	require.Equal(t, int64(3), c.ID)

	mock.ExpectQuery(`FROM one_time_codes WHERE code=`).
		WithArgs(code).
		WillReturnRows(pgxmock.NewRows([]string{"id", "combatant_id", "code", "purpose", "url_template", "expires_at", "consumed", "consumed_at", "created_at"}).
			AddRow(int64(3), int64(1), code, "pin_setup", c.URLTemplate, c.ExpiresAt, false, nil, now))
	got, err := r.Get(ctx, code)
	require.NoError(t, err)
	require.Equal(t, model.PurposePINSetup, got.Purpose)
	require.Equal(t, "https://emol/pin/setup/"+code.String(), got.URL())
	require.True(t, got.IsValid(now.Add(time.Hour)))

	mock.ExpectQuery(`FROM one_time_codes WHERE code=`).
		WithArgs(code).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, code)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCodeRepo_Consume_SingleWinner(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCodeRepo(db.Pool)
	code := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE one_time_codes SET consumed=true`).
		WithArgs(code, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := r.Consume(context.Background(), code, now)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`UPDATE one_time_codes SET consumed=true`).
		WithArgs(code, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = r.Consume(context.Background(), code, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCodeRepo_Purge(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -7)

	mock.ExpectExec(`DELETE FROM one_time_codes`).
		WithArgs(now, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	n, err := NewCodeRepo(db.Pool).Purge(context.Background(), now, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}
