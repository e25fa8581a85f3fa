// Package auth issues and verifies bearer access tokens and resolves the
// calling user for HTTP handlers.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenType is the token_type claim of access tokens.
const AccessTokenType = "access"

var (
	// ErrTokenExpired is returned for tokens past their exp claim.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned for malformed, forged or wrongly typed tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrNoUserClaim is returned when a valid token carries no user_id.
	ErrNoUserClaim = errors.New("token payload does not contain user identifier")
)

// Tokens implements HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a Tokens. A non-positive ttl defaults to one hour.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs an access token for userID.
func (t *Tokens) Issue(userID int64) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"token_type": AccessTokenType,
		"user_id":    userID,
		"jti":        uuid.NewString(),
		"iat":        jwt.NewNumericDate(now),
		"exp":        jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and type of raw and returns its user id.
func (t *Tokens) Verify(raw string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, ErrTokenExpired
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if typ, ok := claims["token_type"]; ok && typ != AccessTokenType {
		return 0, fmt.Errorf("%w: unexpected token type %v", ErrTokenInvalid, typ)
	}
	uid, ok := claims["user_id"]
	if !ok {
		return 0, ErrNoUserClaim
	}
	return parseUserID(uid)
}

// parseUserID accepts numeric and string user_id claims.
func parseUserID(v any) (int64, error) {
	switch id := v.(type) {
	case float64:
		if id != float64(int64(id)) || id <= 0 {
			return 0, fmt.Errorf("%w: bad user_id %v", ErrTokenInvalid, id)
		}
		return int64(id), nil
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: bad user_id %q", ErrTokenInvalid, id)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: bad user_id %v", ErrTokenInvalid, v)
	}
}
