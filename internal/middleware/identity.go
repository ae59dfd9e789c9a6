package middleware

// identity.go defines helpers shared across middleware and handlers for
// reading the identity JWTAuth stored in the Echo context.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user id, or false when the request did
// not pass through JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok && id != 0
}

// Username returns the authenticated username, or "" when absent.
func Username(c echo.Context) string {
	s, _ := c.Get(CtxUsername).(string)
	return s
}

// userKey is the identity used in rate-limit keys and request logs.  It
// returns "anon" when no user is authenticated.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
