package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/eno-chat/internal/middleware"
	"github.com/iliyamo/eno-chat/internal/model"
	"github.com/iliyamo/eno-chat/internal/repository"
	"github.com/iliyamo/eno-chat/internal/storage"
	"github.com/iliyamo/eno-chat/internal/utils"
)

// ----- fakes -----

type fakeUsers struct {
	mu     sync.Mutex
	nextID uint64
	byName map[string]model.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byName: map[string]model.User{}} }

func (f *fakeUsers) Create(_ context.Context, username, email, password string, cost int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[username]; ok {
		return 0, &repository.DuplicateError{Field: "username"}
	}
	for _, u := range f.byName {
		if u.Email == email {
			return 0, &repository.DuplicateError{Field: "email"}
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	f.nextID++
	f.byName[username] = model.User{ID: f.nextID, Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	return f.nextID, nil
}

func (f *fakeUsers) Verify(_ context.Context, username, password string) (model.User, bool, error) {
	f.mu.Lock()
	u, ok := f.byName[username]
	f.mu.Unlock()
	if !ok {
		return model.User{}, false, repository.ErrNotFound
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return model.User{}, false, nil
	}
	return u, true, nil
}

type fakeMessages struct {
	mu      sync.Mutex
	names   map[uint64]string
	stored  []model.Message
	failErr error
	listErr error
}

func (f *fakeMessages) Append(_ context.Context, senderID uint64, p model.Payload) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return model.Message{}, f.failErr
	}
	p = model.Normalize(p)
	if err := p.Validate(); err != nil {
		return model.Message{}, err
	}
	m := model.Message{
		ID:             uint64(len(f.stored) + 1),
		SenderID:       senderID,
		SenderUsername: f.names[senderID],
		CreatedAt:      time.Now().UTC(),
		Payload:        p,
	}
	f.stored = append(f.stored, m)
	return m, nil
}

func (f *fakeMessages) List(_ context.Context, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit <= 0 || limit > repository.DefaultListLimit {
		limit = repository.DefaultListLimit
	}
	from := len(f.stored) - limit
	if from < 0 {
		from = 0
	}
	return append([]model.Message{}, f.stored[from:]...), nil
}

type fakeCache struct {
	mu    sync.Mutex
	count int
}

func (f *fakeCache) Invalidate(context.Context) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
}

func (f *fakeCache) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeEvents struct{ ch chan model.Message }

func (f *fakeEvents) MessageCreated(_ context.Context, m model.Message) error {
	f.ch <- m
	return nil
}

// ----- harness -----

type testEnv struct {
	e      *echo.Echo
	users  *fakeUsers
	msgs   *fakeMessages
	cache  *fakeCache
	events *fakeEvents
	tokens *utils.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	env := &testEnv{
		users:  newFakeUsers(),
		msgs:   &fakeMessages{names: map[uint64]string{}},
		cache:  &fakeCache{},
		events: &fakeEvents{ch: make(chan model.Message, 16)},
		tokens: utils.NewTokenService("0123456789abcdef-handler-test", nil),
	}

	auth := NewAuthHandler(env.users, env.tokens, bcrypt.MinCost, log)
	mh := NewMessageHandler(env.msgs, storage.NewStore(backend), "/uploads/", log)
	mh.Cache = env.cache
	mh.Events = env.events

	e := echo.New()
	jwt := middleware.JWTAuth(env.tokens)
	e.POST("/register", auth.Register)
	e.POST("/login", auth.Login)
	e.POST("/messages", mh.Send, jwt)
	e.GET("/messages", mh.List, jwt)
	e.POST("/upload", mh.Upload, jwt)
	e.GET("/uploads/:name", mh.ServeUpload)
	env.e = e
	return env
}

func (env *testEnv) do(method, path, token, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) postJSON(path, token string, v any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	return env.do(http.MethodPost, path, token, echo.MIMEApplicationJSON, b)
}

// signup registers and logs in, returning the bearer token.
func (env *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	rec := env.postJSON("/register", "", echo.Map{
		"username": username, "email": username + "@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.postJSON("/login", "", echo.Map{"username": username, "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string            `json:"token"`
		User  model.UserSummary `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	env.msgs.mu.Lock()
	env.msgs.names[out.User.ID] = out.User.Username
	env.msgs.mu.Unlock()
	return out.Token
}

type filePart struct {
	field, name, contentType string
	data                     []byte
}

func multipartBody(t *testing.T, parts ...filePart) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.name))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func (env *testEnv) upload(t *testing.T, token string, parts ...filePart) *httptest.ResponseRecorder {
	body, ctype := multipartBody(t, parts...)
	return env.do(http.MethodPost, "/upload", token, ctype, body)
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func waitEvent(t *testing.T, ch <-chan model.Message) model.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message.created event published")
		return model.Message{}
	}
}

var errUpstream = errors.New("database is on fire")

// pngBytes is a 1 KiB file with a PNG signature.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 1016)...)
