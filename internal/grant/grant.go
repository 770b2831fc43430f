// Package grant issues short-lived card access tokens after a successful PIN check.
package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/emol/internal/clock"
	"github.com/and161185/emol/internal/crypto"
)

const audience = "emol-card"

// ErrInvalidGrant is returned for tokens that fail signature, audience or expiry checks.
var ErrInvalidGrant = errors.New("invalid card grant")

// Issuer signs and verifies HS256 grants bound to a card id.
type Issuer struct {
	key []byte
	ttl time.Duration
	clk clock.Clock
}

// NewIssuer builds an issuer. An empty key is replaced by a random per-process key.
func NewIssuer(key []byte, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if len(key) == 0 {
		k, err := crypto.RandBytes(32)
		if err != nil {
			return nil, fmt.Errorf("grant key: %w", err)
		}
		key = k
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Issuer{key: key, ttl: ttl, clk: clk}, nil
}

// Issue signs a grant for cardID.
func (i *Issuer) Issue(cardID string) (string, time.Time, error) {
	now := i.clk.Now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   cardID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.key)
	return signed, exp, err
}

// Verify checks token and returns the card id it grants.
func (i *Issuer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clk.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	return claims.Subject, nil
}
