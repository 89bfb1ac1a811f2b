package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/open-gamma/backend/internal/authstate"
	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/config"
	"github.com/open-gamma/backend/internal/model"
	"github.com/open-gamma/backend/internal/ratelimit"
	"github.com/open-gamma/backend/internal/service"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	conns   map[string][]model.Connection
	lastID  string
	linkErr error
}

func (f *fakeProvider) Link(ctx context.Context, userID, authConfigID, callbackURL string) (*client.LinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.lastID = userID
	return &client.LinkResult{RedirectURL: "https://connect.example.com/" + userID, ConnectionID: "ca_1"}, nil
}

func (f *fakeProvider) ListConnections(ctx context.Context, userID string) ([]model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[userID], nil
}

func (f *fakeProvider) connect(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[userID] = []model.Connection{{ID: "ca_1", Status: "ACTIVE"}}
}

type fakeStore struct {
	mu    sync.Mutex
	chats map[string]*model.Chat
	msgs  map[string][]model.UIMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: map[string]*model.Chat{}, msgs: map[string][]model.UIMessage{}}
}

func (f *fakeStore) EnsureUserExists(ctx context.Context, userID string) error { return nil }

func (f *fakeStore) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Chat{}
	for _, c := range f.chats {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateChat(ctx context.Context, userID, title string, modelID *string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	c := &model.Chat{ID: uuid.NewString(), UserID: userID, Title: title, Model: modelID, CreatedAt: now, UpdatedAt: now}
	f.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateChat(ctx context.Context, chatID, userID, title, modelID string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	if title != "" {
		c.Title = title
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) DeleteChat(ctx context.Context, chatID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(f.chats, chatID)
	return true, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, chatID string) ([]model.UIMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.UIMessage{}, f.msgs[chatID]...), nil
}

func (f *fakeStore) ReplaceMessages(ctx context.Context, chatID string, messages []model.UIMessage, title *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[chatID] = messages
	if title != nil {
		f.chats[chatID].Title = *title
	}
	return nil
}

type fakeModel struct {
	chunks []string
	err    error
}

func (f *fakeModel) Stream(ctx context.Context, req client.ModelRequest, emit func(string) error) ([]client.ToolCall, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type testEnv struct {
	router   *gin.Engine
	provider *fakeProvider
	session  *service.SessionService
	model    *fakeModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Env:      "test",
		Auth:     config.AuthConfig{URL: "http://localhost:3000", SessionTTL: time.Hour},
		Composio: config.ComposioConfig{AuthConfigID: "ac_test"},
	}
	codec, err := authstate.NewCodec([]byte("test-state-key"))
	require.NoError(t, err)
	session, err := service.NewSessionService([]byte("test-session-key"), cfg.Auth, false)
	require.NoError(t, err)

	provider := &fakeProvider{conns: map[string][]model.Connection{}}
	store := newFakeStore()
	link, err := service.NewLinkService(codec, authstate.NewMemoryReplayGuard(nil), provider, store, cfg, nil)
	require.NoError(t, err)

	fm := &fakeModel{chunks: []string{"Hello", " there"}}
	chat := service.NewChatService(service.ModelSet{"openai": fm}, "", nil, nil)

	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}, true))
	r.GET("/healthz", Healthz(fakePinger{}))

	authMW := AuthMiddleware(session)
	ah := NewAuthHandler(link, session)
	r.POST("/api/v1/auth/link", ah.Link)
	r.POST("/api/v1/auth/verify", ah.Verify)
	r.POST("/api/v1/auth/logout", ah.Logout)
	r.GET("/api/v1/auth/me", authMW, ah.Me)
	r.GET("/api/v1/models", ListModels(chat))

	ch := NewChatsHandler(service.NewChatHistoryService(store))
	chats := r.Group("/api/v1/chats", authMW)
	chats.GET("", ch.GetChats)
	chats.POST("", ch.CreateChat)
	chats.GET("/:id", ch.GetChat)
	chats.DELETE("/:id", ch.DeleteChat)
	chats.POST("/:id/messages", ch.SaveMessages)

	r.POST("/api/chat", authMW, RateLimitMiddleware(ratelimit.New(), nil), NewChatHandler(chat).Chat)

	return &testEnv{router: r, provider: provider, session: session, model: fm}
}

func (e *testEnv) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	token, err := e.session.Issue(userID)
	require.NoError(t, err)
	return &http.Cookie{Name: e.session.CookieConfig().Name, Value: token}
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

var errBoom = errors.New("boom")

func newPreflight(path, origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func recordOn(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
