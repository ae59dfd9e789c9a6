package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/metrics"
	"github.com/iliyamo/eno-chat/internal/model"
	"github.com/iliyamo/eno-chat/internal/repository"
	"github.com/iliyamo/eno-chat/internal/utils"
)

// UserStore is the credential store used by AuthHandler.
// *repository.UserRepo satisfies it.
type UserStore interface {
	Create(ctx context.Context, username, email, password string, cost int) (uint64, error)
	Verify(ctx context.Context, username, password string) (model.User, bool, error)
}

// TokenIssuer signs access tokens.  *utils.TokenService satisfies it.
type TokenIssuer interface {
	Issue(userID uint64, username string) (utils.AccessToken, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Users      UserStore
	Tokens     TokenIssuer
	BcryptCost int
	Log        *zap.Logger
}

func NewAuthHandler(users UserStore, tokens TokenIssuer, bcryptCost int, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Users: users, Tokens: tokens, BcryptCost: bcryptCost, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type loginResp struct {
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    model.UserSummary `json:"user"`
}

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores anything past 72 bytes
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// validate returns a reason per failing field, or nil.
func (r registerReq) validate() map[string]string {
	fields := map[string]string{}
	if !usernameRe.MatchString(r.Username) {
		fields["username"] = "must be 3-30 characters of letters, digits, '_', '.' or '-'"
	}
	if len(r.Email) > 254 || !emailRe.MatchString(r.Email) {
		fields["email"] = "must be a valid email address"
	}
	switch {
	case utf8.RuneCountInString(r.Password) < minPasswordLen:
		fields["password"] = "must be at least 6 characters"
	case len(r.Password) > maxPasswordLen:
		fields["password"] = "must be at most 72 bytes"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Register validates the request and creates the user.  No token is issued;
// clients log in afterwards.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if fields := req.validate(); fields != nil {
		return validationFailed(c, fields)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Users.Create(ctx, req.Username, req.Email, req.Password, h.BcryptCost); err != nil {
		return respondError(c, h.Log, err)
	}
	metrics.UsersRegistered.Inc()
	return c.JSON(http.StatusCreated, echo.Map{"message": "User registered successfully"})
}

// Login verifies credentials and returns a signed access token.  Unknown
// usernames and wrong passwords produce the same response.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		metrics.Logins.WithLabelValues("failure").Inc()
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgInvalidCredentials})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, ok, err := h.Users.Verify(ctx, req.Username, req.Password)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return respondError(c, h.Log, err)
	}
	if err != nil || !ok {
		metrics.Logins.WithLabelValues("failure").Inc()
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgInvalidCredentials})
	}

	access, err := h.Tokens.Issue(u.ID, u.Username)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	metrics.Logins.WithLabelValues("success").Inc()
	return c.JSON(http.StatusOK, loginResp{
		Message: "Login successful",
		Token:   access.Token,
		User:    u.Summary(),
	})
}
