package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test-secret"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestService() (*TokenService, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	return NewTokenService(testSecret, clk.Now), clk
}

func TestTokenService_IssueVerify(t *testing.T) {
	svc, clk := newTestService()

	tok, err := svc.Issue(42, "alice")
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(TokenTTL), tok.Exp)
	assert.Equal(t, 2, strings.Count(tok.Token, "."))

	claims, err := svc.Verify(tok.Token)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), uid)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, clk.t.Add(TokenTTL).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenService_Expiry(t *testing.T) {
	svc, clk := newTestService()
	tok, err := svc.Issue(1, "bob")
	require.NoError(t, err)

	clk.t = clk.t.Add(TokenTTL - time.Minute)
	_, err = svc.Verify(tok.Token)
	require.NoError(t, err)

	clk.t = clk.t.Add(2 * time.Minute)
	_, err = svc.Verify(tok.Token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	svc, clk := newTestService()
	claims := Claims{
		Username: "mallory",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
	}

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-of-enough-length"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp := claims
	noExp.ExpiresAt = nil
	withoutExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte(testSecret))
	require.NoError(t, err)

	badSub := claims
	badSub.Subject = "not-a-number"
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, badSub).SignedString([]byte(testSecret))
	require.NoError(t, err)

	good, err := svc.Issue(1, "alice")
	require.NoError(t, err)
	parts := strings.Split(good.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, raw := range map[string]string{
		"wrong key":       otherKey,
		"alg none":        none,
		"other algorithm": hs512,
		"no expiry":       withoutExp,
		"bad subject":     badSubject,
		"tampered":        tampered,
		"garbage":         "not.a.token",
		"empty":           "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(raw)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
