package perm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/emol/internal/errs"
	"github.com/and161185/emol/internal/repository/memory"
)

func TestRequire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := memory.New()
	s.AddPermission(WriteWaiverDate, "Write waiver date", true)
	s.AddPermission(WriteCardDate, "Write card date", false)
	rapier := s.AddDiscipline("Rapier", "rapier")
	armoured := s.AddDiscipline("Armoured Combat", "armoured-combat")

	repos := s.Repos()
	require.NoError(t, repos.Permissions.Grant(ctx, 10, WriteWaiverDate, nil))
	require.NoError(t, repos.Permissions.Grant(ctx, 10, WriteCardDate, &rapier.ID))

	c := NewChecker(repos.Permissions)
	u := Actor{UserID: 10}

	require.NoError(t, c.Require(ctx, u, WriteWaiverDate, nil))
	require.NoError(t, c.Require(ctx, u, WriteCardDate, &rapier.ID))
	require.ErrorIs(t, c.Require(ctx, u, WriteCardDate, &armoured.ID), errs.ErrPermissionDenied)
	require.ErrorIs(t, c.Require(ctx, u, WriteCardDate, nil), errs.ErrPermissionDenied)
	require.ErrorIs(t, c.Require(ctx, Actor{UserID: 11}, WriteWaiverDate, nil), errs.ErrPermissionDenied)
	require.NoError(t, c.Require(ctx, System, WriteMarshal, &armoured.ID))
}
