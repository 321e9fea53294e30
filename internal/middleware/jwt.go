package middleware // middleware contains reusable HTTP middleware for the admission API

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys written by JWTAuth.
const (
	CtxStaffID = "staff_id"
	CtxRole    = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer staff token
// and stores its subject and role claims in the request context under
// CtxStaffID and CtxRole.  The secret must match the one used when issuing
// tokens.  Only HMAC-signed tokens are accepted and exp is required.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	)
	key := []byte(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return key, nil })
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			sub, _ := claims.GetSubject()
			role, _ := claims["role"].(string)
			if sub == "" || role == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			c.Set(CtxStaffID, sub)
			c.Set(CtxRole, role)
			return next(c)
		}
	}
}
