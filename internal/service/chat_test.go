package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(role, text string) model.UIMessage {
	return model.UIMessage{
		ID:    role + "-1",
		Role:  role,
		Parts: []model.MessagePart{{"type": "text", "text": text}},
	}
}

func TestChatValidate(t *testing.T) {
	svc := NewChatService(ModelSet{}, "", nil, nil)

	prompt, err := svc.Validate(model.ChatRequest{Messages: []model.UIMessage{
		textMessage("user", "  Make a deck about otters "),
		{ID: "t", Role: "tool", Content: "ignored"},
		textMessage("assistant", ""),
		{ID: "a", Role: "Assistant", Content: "Sure, how many slides?"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []model.PromptMessage{
		{Role: "user", Content: "Make a deck about otters"},
		{Role: "assistant", Content: "Sure, how many slides?"},
	}, prompt)
}

func TestChatValidateRejects(t *testing.T) {
	svc := NewChatService(ModelSet{}, "", nil, nil)

	tooMany := make([]model.UIMessage, maxChatMessages+1)
	for i := range tooMany {
		tooMany[i] = textMessage("user", "hi")
	}

	tests := map[string]model.ChatRequest{
		"missing":  {},
		"empty":    {Messages: []model.UIMessage{}},
		"too many": {Messages: tooMany},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(req)
			assert.ErrorIs(t, err, ErrInvalidChatRequest)
		})
	}
}

func TestChatValidateAcceptsMessagesWithoutText(t *testing.T) {
	svc := NewChatService(ModelSet{}, "", nil, nil)

	prompt, err := svc.Validate(model.ChatRequest{Messages: []model.UIMessage{
		{ID: "f", Role: "user", Parts: []model.MessagePart{{"type": "file", "url": "https://example.com/brief.pdf"}}},
		{ID: "t", Role: "assistant", Parts: []model.MessagePart{{"type": "tool-GOOGLESLIDES_CREATE_PRESENTATION", "state": "output-available"}}},
	}})
	require.NoError(t, err)
	assert.Empty(t, prompt)

	full := make([]model.UIMessage, maxChatMessages)
	for i := range full {
		full[i] = model.UIMessage{Role: "user"}
	}
	_, err = svc.Validate(model.ChatRequest{Messages: full})
	assert.NoError(t, err)
}

func TestChatResolve(t *testing.T) {
	openai := &fakeModel{}
	anthropic := &fakeModel{}
	svc := NewChatService(ModelSet{"openai": openai, "anthropic": anthropic}, "", nil, nil)
	assert.Equal(t, DefaultModelID, svc.DefaultModel())

	provider, name, m, err := svc.Resolve("anthropic/claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", provider)
	assert.Equal(t, "claude-sonnet-4-20250514", name)
	assert.Same(t, anthropic, m)

	for _, id := range []string{"", "google/gemini-2.0-flash", "bogus", "/x", "openai/"} {
		provider, name, m, err := svc.Resolve(id)
		require.NoError(t, err, id)
		assert.Equal(t, "openai", provider, id)
		assert.Equal(t, "gpt-5.2", name, id)
		assert.Same(t, openai, m, id)
	}

	empty := NewChatService(ModelSet{}, "", nil, nil)
	_, _, _, err = empty.Resolve("openai/gpt-4o")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestChatStream(t *testing.T) {
	fm := &fakeModel{chunks: []string{"Hello", ", ", "world"}}
	svc := NewChatService(ModelSet{"openai": fm}, "openai/gpt-4o-mini", nil, nil)

	var out strings.Builder
	err := svc.Stream(context.Background(), "user-abc", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "hi")},
	}, func(s string) error {
		out.WriteString(s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out.String())
	assert.Equal(t, "gpt-4o-mini", fm.got.Model)
	assert.Contains(t, fm.got.System, "presentation")
	assert.Equal(t, []model.PromptMessage{{Role: "user", Content: "hi"}}, fm.got.Messages)
}

func TestChatStreamRequestedModel(t *testing.T) {
	fm := &fakeModel{chunks: []string{"ok"}}
	svc := NewChatService(ModelSet{"openai": fm}, "", nil, nil)
	requested := "openai/gpt-4.1"

	err := svc.Stream(context.Background(), "user-abc", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "hi")},
		Model:    &requested,
	}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", fm.got.Model)
}

func TestChatStreamErrors(t *testing.T) {
	upstream := errors.New("provider 500")
	svc := NewChatService(ModelSet{"openai": &fakeModel{err: upstream}}, "", nil, nil)
	req := model.ChatRequest{Messages: []model.UIMessage{textMessage("user", "hi")}}

	err := svc.Stream(context.Background(), "user-abc", req, func(string) error { return nil })
	assert.ErrorIs(t, err, upstream)

	err = svc.Stream(context.Background(), "user-abc", model.ChatRequest{}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidChatRequest)

	stop := errors.New("client gone")
	svc = NewChatService(ModelSet{"openai": &fakeModel{chunks: []string{"a", "b"}}}, "", nil, nil)
	err = svc.Stream(context.Background(), "user-abc", req, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

var deckTools = []client.Tool{
	{Name: "COMPOSIO_SEARCH_IMAGE", Description: "Search images", InputSchema: json.RawMessage(`{"type":"object"}`)},
	{Name: "GOOGLESLIDES_CREATE_PRESENTATION", Description: "Create a deck", InputSchema: json.RawMessage(`{"type":"object"}`)},
}

func TestChatStreamRunsTools(t *testing.T) {
	fm := &fakeModel{
		turns: []fakeTurn{
			{text: "Looking for images. ", calls: []client.ToolCall{{ID: "c1", Name: "COMPOSIO_SEARCH_IMAGE", Arguments: json.RawMessage(`{"query":"otters"}`)}}},
			{calls: []client.ToolCall{{ID: "c2", Name: "GOOGLESLIDES_CREATE_PRESENTATION", Arguments: json.RawMessage(`{}`)}}},
		},
		chunks: []string{"Your deck is ready."},
	}
	set := &fakeToolset{tools: deckTools}
	tools := &fakeTools{set: set}
	svc := NewChatService(ModelSet{"openai": fm}, "", tools, nil)

	var out strings.Builder
	err := svc.Stream(context.Background(), "user-tools01", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "Deck about otters")},
	}, func(s string) error {
		out.WriteString(s)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Looking for images. Your deck is ready.", out.String())
	assert.Equal(t, "user-tools01", tools.userID)
	assert.Equal(t, PresentationToolkits, tools.toolkits)
	assert.True(t, set.closed)

	require.Len(t, set.calls, 2)
	assert.Equal(t, "COMPOSIO_SEARCH_IMAGE", set.calls[0].Name)
	assert.JSONEq(t, `{"query":"otters"}`, string(set.calls[0].Arguments))

	require.Len(t, fm.reqs, 3)
	assert.Equal(t, deckTools, fm.reqs[0].Tools)
	assert.Empty(t, fm.reqs[0].Steps)
	last := fm.reqs[2].Steps
	require.Len(t, last, 2)
	assert.Equal(t, "Looking for images. ", last[0].Text)
	assert.Equal(t, "c1", last[0].Results[0].CallID)
	assert.Equal(t, "result of GOOGLESLIDES_CREATE_PRESENTATION", last[1].Results[0].Content)
}

func TestChatStreamFeedsToolErrorsBack(t *testing.T) {
	fm := &fakeModel{
		turns:  []fakeTurn{{calls: []client.ToolCall{{ID: "c1", Name: "COMPOSIO_SEARCH_IMAGE"}}}},
		chunks: []string{"Retrying with a generated image."},
	}
	set := &fakeToolset{tools: deckTools, failOn: "COMPOSIO_SEARCH_IMAGE"}
	svc := NewChatService(ModelSet{"openai": fm}, "", &fakeTools{set: set}, nil)

	err := svc.Stream(context.Background(), "user-tools02", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "hi")},
	}, func(string) error { return nil })
	require.NoError(t, err)

	require.Len(t, fm.reqs, 2)
	res := fm.reqs[1].Steps[0].Results[0]
	assert.True(t, res.IsError)
	assert.Equal(t, "upstream rejected image", res.Content)
}

func TestChatStreamStopsAtToolStepLimit(t *testing.T) {
	turns := make([]fakeTurn, maxToolSteps+5)
	for i := range turns {
		turns[i] = fakeTurn{calls: []client.ToolCall{{ID: "c", Name: "COMPOSIO_SEARCH_IMAGE"}}}
	}
	fm := &fakeModel{turns: turns}
	set := &fakeToolset{tools: deckTools}
	svc := NewChatService(ModelSet{"openai": fm}, "", &fakeTools{set: set}, nil)

	err := svc.Stream(context.Background(), "user-tools03", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "hi")},
	}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Len(t, fm.reqs, maxToolSteps)
	assert.Len(t, set.calls, maxToolSteps)
	assert.True(t, set.closed)
}

func TestChatStreamSilentTurnAfterTools(t *testing.T) {
	fm := &fakeModel{
		turns: []fakeTurn{{text: "Done: ", calls: []client.ToolCall{{ID: "c1", Name: "GOOGLESLIDES_CREATE_PRESENTATION"}}}},
		err:   client.ErrEmptyStream,
	}
	svc := NewChatService(ModelSet{"openai": fm}, "", &fakeTools{set: &fakeToolset{tools: deckTools}}, nil)
	req := model.ChatRequest{Messages: []model.UIMessage{textMessage("user", "hi")}}

	err := svc.Stream(context.Background(), "user-tools04", req, func(string) error { return nil })
	assert.NoError(t, err)

	silent := NewChatService(ModelSet{"openai": &fakeModel{err: client.ErrEmptyStream}}, "", nil, nil)
	err = silent.Stream(context.Background(), "user-tools04", req, func(string) error { return nil })
	assert.ErrorIs(t, err, client.ErrEmptyStream)
}

func TestChatStreamToolsetFailure(t *testing.T) {
	fm := &fakeModel{chunks: []string{"never"}}
	upstream := errors.New("tool router unavailable")
	svc := NewChatService(ModelSet{"openai": fm}, "", &fakeTools{err: upstream}, nil)

	err := svc.Stream(context.Background(), "user-tools05", model.ChatRequest{
		Messages: []model.UIMessage{textMessage("user", "hi")},
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, upstream)
	assert.Empty(t, fm.reqs)
}
