package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/eno-chat/internal/utils"
)

func TestJWTAuth(t *testing.T) {
	now := time.Now()
	tokens := utils.NewTokenService("0123456789abcdef-secret", func() time.Time { return now })
	good, err := tokens.Issue(7, "alice")
	require.NoError(t, err)
	stale, err := utils.NewTokenService("0123456789abcdef-secret", func() time.Time { return now.Add(-48 * time.Hour) }).Issue(7, "alice")
	require.NoError(t, err)

	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		id, ok := UserID(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, echo.Map{"id": id, "username": Username(c)})
	}, JWTAuth(tokens))

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, `{"error":"missing token"}`},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, `{"error":"missing token"}`},
		{"empty bearer", "Bearer   ", http.StatusUnauthorized, `{"error":"missing token"}`},
		{"garbage", "Bearer abc.def.ghi", http.StatusForbidden, `{"error":"invalid token"}`},
		{"expired", "Bearer " + stale.Token, http.StatusForbidden, `{"error":"invalid token"}`},
		{"valid", "Bearer " + good.Token, http.StatusOK, `{"id":7,"username":"alice"}`},
		{"lowercase scheme", "bearer " + good.Token, http.StatusOK, `{"id":7,"username":"alice"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tc.header != "" {
				hdr[echo.HeaderAuthorization] = tc.header
			}
			rec := serve(e, http.MethodGet, "/me", hdr)
			assert.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, tc.body, rec.Body.String())
		})
	}
}

func TestUserKey(t *testing.T) {
	e := echo.New()
	var keys []string
	h := func(c echo.Context) error {
		keys = append(keys, userKey(c))
		return c.NoContent(http.StatusNoContent)
	}
	e.GET("/anon", h)
	e.GET("/user", h, withUser(42, "bob"))

	serve(e, http.MethodGet, "/anon", nil)
	serve(e, http.MethodGet, "/user", nil)
	assert.Equal(t, []string{"anon", "42"}, keys)
}
