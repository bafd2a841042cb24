// Package auth issues and verifies the HS256 tokens that bind a websocket
// connection to an account.
package auth

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Enflame-Media/Magic-Agent-sub018/internal/errs"
)

// DefaultTTL is the access token lifetime.
const DefaultTTL = 30 * 24 * time.Hour

// Tokens holds the HS256 signing key. Safe for concurrent use.
type Tokens struct {
	signKey []byte
	ttl     time.Duration
}

func New(signKey []byte, ttl time.Duration) (*Tokens, error) {
	if len(signKey) == 0 {
		return nil, errors.New("auth: empty signing key")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{signKey: signKey, ttl: ttl}, nil
}

// Issue creates a signed HS256 JWT with the account id as subject.
func (t *Tokens) Issue(accountID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.signKey)
	return signed, exp, err
}

// Verify checks the signature and validity window and returns the account id.
func (t *Tokens) Verify(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.ErrUnauthorized
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}
