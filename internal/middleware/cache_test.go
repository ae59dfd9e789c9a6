package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/eno-chat/internal/config"
)

func cacheCfg() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		Prefix:       "test:cache",
		MaxBodyBytes: 1 << 20,
	}
}

func TestResponseCache_HitMissInvalidate(t *testing.T) {
	_, rdb := newRedis(t)
	rc := NewResponseCache(cacheCfg(), rdb, zaptest.NewLogger(t))

	calls := 0
	e := echo.New()
	e.GET("/messages", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"calls": calls})
	}, withUser(1, "alice"), rc.Middleware())

	first := serve(e, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(e, http.MethodGet, "/messages", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)

	rc.Invalidate(context.Background())

	third := serve(e, http.MethodGet, "/messages", nil)
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"calls":2}`, third.Body.String())
	assert.Equal(t, 2, calls)
}

func TestResponseCache_QueryIsPartOfKey(t *testing.T) {
	_, rdb := newRedis(t)
	rc := NewResponseCache(cacheCfg(), rdb, zaptest.NewLogger(t))

	e := echo.New()
	e.GET("/messages", func(c echo.Context) error {
		return c.String(http.StatusOK, c.QueryParam("limit"))
	}, rc.Middleware())

	serve(e, http.MethodGet, "/messages?limit=1", nil)
	rec := serve(e, http.MethodGet, "/messages?limit=2", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "2", rec.Body.String())
}

func TestResponseCache_SkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	rc := NewResponseCache(cacheCfg(), rdb, zaptest.NewLogger(t))

	calls := 0
	e := echo.New()
	e.GET("/messages", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}, rc.Middleware())

	serve(e, http.MethodGet, "/messages", nil)
	rec := serve(e, http.MethodGet, "/messages", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
}

func TestResponseCache_RedisDownPassesThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	rc := NewResponseCache(cacheCfg(), rdb, zaptest.NewLogger(t))
	mr.Close()

	e := echo.New()
	e.GET("/messages", okHandler, rc.Middleware())

	rec := serve(e, http.MethodGet, "/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	rc.Invalidate(context.Background())
}

func TestResponseCache_NilIsNoop(t *testing.T) {
	var rc *ResponseCache
	e := echo.New()
	e.GET("/messages", okHandler, rc.Middleware())

	rec := serve(e, http.MethodGet, "/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	rc.Invalidate(context.Background())
}

func TestPayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`[1,2]`))
	require.NoError(t, err)

	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, `[1,2]`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
}
