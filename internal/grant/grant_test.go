package grant

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/emol/internal/clock"
)

func TestIssueVerify(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	iss, err := NewIssuer([]byte("secret"), time.Hour, clk)
	require.NoError(t, err)

	tok, exp, err := iss.Issue("argent-fess-wyvern")
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(time.Hour), exp)

	cardID, err := iss.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "argent-fess-wyvern", cardID)

	clk.Advance(2 * time.Hour)
	_, err = iss.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestVerify_RejectsForeignKeyAndMethod(t *testing.T) {
	t.Parallel()

	a, err := NewIssuer([]byte("a"), time.Hour, nil)
	require.NoError(t, err)
	b, err := NewIssuer([]byte("b"), time.Hour, nil)
	require.NoError(t, err)

	tok, _, err := a.Issue("or-fess-sun")
	require.NoError(t, err)
	_, err = b.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidGrant)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x", Audience: jwt.ClaimStrings{audience}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestNewIssuer_RandomKeyWhenEmpty(t *testing.T) {
	t.Parallel()

	a, err := NewIssuer(nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, a.key, 32)
	require.Equal(t, 12*time.Hour, a.ttl)
}
