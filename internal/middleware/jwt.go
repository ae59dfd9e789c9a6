package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/eno-chat/internal/utils" // token verification
)

// Context keys set by JWTAuth.
const (
	CtxUserID   = "user_id"
	CtxUsername = "username"
)

// TokenVerifier checks a raw bearer token.  *utils.TokenService satisfies it.
type TokenVerifier interface {
	Verify(raw string) (utils.Claims, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's user id and username into the request context.  It is
// the only authentication gate: no handler behind it runs unless Verify
// succeeds.  A missing header is answered with 401; any verification failure
// (bad signature, malformed, expired) with 403 and the same generic body.
func JWTAuth(tokens TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A valid header should start with "Bearer " followed by the JWT.
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := bearer(auth)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid token"})
			}
			uid, err := claims.UserID()
			if err != nil {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid token"})
			}

			// Handlers read these back through UserID / Username.
			c.Set(CtxUserID, uid)
			c.Set(CtxUsername, claims.Username)
			return next(c)
		}
	}
}

// bearer extracts the token from an Authorization header.  The scheme is
// matched case-insensitively as RFC 6750 allows.
func bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(header[len(prefix):])
	return raw, raw != ""
}
