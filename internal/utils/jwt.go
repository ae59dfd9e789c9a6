package utils // package utils provides helper functions for token signing and password hashing

import (
	"errors"  // sentinel errors for token verification
	"strconv" // user ids travel as decimal strings in the subject claim
	"time"    // issue and expiry timestamps

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// TokenTTL is the fixed lifetime of an access token.
const TokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken covers a malformed token, a bad signature or an
	// unexpected signing algorithm.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-signed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// AccessToken represents a signed JWT along with its expiry.  The Token
// field is what clients send back in the Authorization header.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims is the payload of an access token.  The user id is carried in
// the standard subject claim; the username is a private claim so the
// pipeline can label messages without a lookup.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c Claims) UserID() (uint64, error) {
	return strconv.ParseUint(c.Subject, 10, 64)
}

// TokenService issues and verifies HS256 access tokens.  It is built once
// at startup and shared by every request; it holds no mutable state.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService returns a service signing with secret.  A nil clock
// means time.Now.
func NewTokenService(secret string, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	return &TokenService{secret: []byte(secret), now: now}
}

// Issue builds and signs a token for the given user that expires
// TokenTTL after issuance.
func (s *TokenService) Issue(userID uint64, username string) (AccessToken, error) {
	now := s.now().UTC()
	exp := now.Add(TokenTTL)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Verify checks signature and expiry of raw and returns its claims.
func (s *TokenService) Verify(raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		// Reject anything that is not HMAC, in particular "none".
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil || claims.Username == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
