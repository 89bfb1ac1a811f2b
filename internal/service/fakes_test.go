package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/model"
)

type fakeProvider struct {
	mu      sync.Mutex
	conns   map[string][]model.Connection
	linked  []string
	linkErr error
	listErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{conns: map[string][]model.Connection{}}
}

func (f *fakeProvider) Link(ctx context.Context, userID, authConfigID, callbackURL string) (*client.LinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	f.linked = append(f.linked, userID)
	return &client.LinkResult{
		RedirectURL:  "https://connect.example.com/link?user=" + userID + "&cb=" + callbackURL,
		ConnectionID: "ca_" + userID,
	}, nil
}

func (f *fakeProvider) ListConnections(ctx context.Context, userID string) ([]model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.conns[userID], nil
}

func (f *fakeProvider) Connect(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[userID] = append(f.conns[userID], model.Connection{ID: "ca_" + userID, Status: "ACTIVE"})
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]int
	err   error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]int{}}
}

func (f *fakeUsers) EnsureUserExists(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.users[userID]++
	return nil
}

type fakeChatStore struct {
	*fakeUsers
	chats    map[string]*model.Chat
	messages map[string][]model.UIMessage
	now      time.Time
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		fakeUsers: newFakeUsers(),
		chats:     map[string]*model.Chat{},
		messages:  map[string][]model.UIMessage{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeChatStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeChatStore) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	out := []model.Chat{}
	for _, c := range f.chats {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeChatStore) CreateChat(ctx context.Context, userID, title string, modelID *string) (*model.Chat, error) {
	now := f.tick()
	c := &model.Chat{ID: uuid.NewString(), UserID: userID, Title: title, Model: modelID, CreatedAt: now, UpdatedAt: now}
	f.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeChatStore) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChatStore) UpdateChat(ctx context.Context, chatID, userID, title, modelID string) (*model.Chat, error) {
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	if title != "" {
		c.Title = title
	}
	if modelID != "" {
		c.Model = &modelID
	}
	c.UpdatedAt = f.tick()
	cp := *c
	return &cp, nil
}

func (f *fakeChatStore) DeleteChat(ctx context.Context, chatID, userID string) (bool, error) {
	c, ok := f.chats[chatID]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(f.chats, chatID)
	delete(f.messages, chatID)
	return true, nil
}

func (f *fakeChatStore) ListMessages(ctx context.Context, chatID string) ([]model.UIMessage, error) {
	return append([]model.UIMessage{}, f.messages[chatID]...), nil
}

func (f *fakeChatStore) ReplaceMessages(ctx context.Context, chatID string, messages []model.UIMessage, title *string) error {
	f.messages[chatID] = append([]model.UIMessage{}, messages...)
	c := f.chats[chatID]
	if title != nil {
		c.Title = *title
	}
	c.UpdatedAt = f.tick()
	return nil
}

type fakeTurn struct {
	text  string
	calls []client.ToolCall
}

// fakeModel plays its scripted turns first, then fails with err or streams chunks.
type fakeModel struct {
	turns  []fakeTurn
	chunks []string
	err    error
	got    client.ModelRequest
	reqs   []client.ModelRequest
}

func (f *fakeModel) Stream(ctx context.Context, req client.ModelRequest, emit func(string) error) ([]client.ToolCall, error) {
	f.got = req
	f.reqs = append(f.reqs, req)
	if len(f.turns) > 0 {
		turn := f.turns[0]
		f.turns = f.turns[1:]
		if turn.text != "" {
			if err := emit(turn.text); err != nil {
				return nil, err
			}
		}
		return turn.calls, nil
	}
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

type fakeToolset struct {
	tools  []client.Tool
	failOn string
	calls  []client.ToolCall
	closed bool
}

func (f *fakeToolset) Tools() []client.Tool { return f.tools }

func (f *fakeToolset) Call(ctx context.Context, call client.ToolCall) client.ToolResult {
	f.calls = append(f.calls, call)
	if call.Name == f.failOn {
		return client.ToolResult{CallID: call.ID, Name: call.Name, Content: "upstream rejected image", IsError: true}
	}
	return client.ToolResult{CallID: call.ID, Name: call.Name, Content: "result of " + call.Name}
}

func (f *fakeToolset) Close() error {
	f.closed = true
	return nil
}

type fakeTools struct {
	set      *fakeToolset
	err      error
	userID   string
	toolkits []string
}

func (f *fakeTools) OpenToolset(ctx context.Context, userID string, toolkits []string) (client.Toolset, error) {
	f.userID = userID
	f.toolkits = toolkits
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}
