package utils // package utils provides helpers for issuing staff tokens

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessToken is a signed staff JWT along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// ErrEmptySecret is returned when asked to sign with no secret.
var ErrEmptySecret = errors.New("jwt secret must not be empty")

// NewAccessToken builds and signs an HS256 JWT for a staff member.  The
// token carries sub, role, exp, iat and a random jti.  Gate kiosks are
// issued long-lived tokens so ttl is a plain duration.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, ErrEmptySecret
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
		"jti":  uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
