package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/open-gamma/backend/internal/client"
	"github.com/open-gamma/backend/internal/metrics"
	"github.com/open-gamma/backend/internal/model"
	"github.com/sirupsen/logrus"
)

const (
	maxChatMessages = 100
	maxToolSteps    = 20
	DefaultModelID  = "openai/gpt-5.2"
)

// PresentationToolkits are the toolkits exposed to the model on every chat.
var PresentationToolkits = []string{"GOOGLESLIDES", "COMPOSIO_SEARCH", "GEMINI"}

var (
	ErrInvalidChatRequest = errors.New("invalid chat request")
	ErrModelUnavailable   = errors.New("no model provider configured")
)

var AvailableModels = []model.ModelInfo{
	{ID: "openai/gpt-4.1", Name: "GPT-4.1", Provider: "openai"},
	{ID: "openai/gpt-5.2", Name: "GPT-5.2", Provider: "openai"},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "openai"},
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai"},
	{ID: "anthropic/claude-sonnet-4-20250514", Name: "Claude Sonnet 4", Provider: "anthropic"},
	{ID: "anthropic/claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: "anthropic"},
	{ID: "google/gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "google"},
}

const presentationSystemPrompt = `You are a presentation generation agent that builds high-impact, professional decks in Google Slides.

Requirements:
- Ask for everything you need in a single message: topic, audience, goal or call to action, slide count, theme, colour scheme, tone and content density.

Structure:
- Keep slides minimal and follow the flow Hook -> Context -> Solution -> Supporting points -> Call to action.
- Put the main proposal on a "golden slide" within the first third of the deck.
- Open with a bold statement, story or statistic and close with clear takeaways.

Content:
- Use keywords rather than full sentences, at most three ideas per slide, and an action-oriented title on every slide.
- Avoid jargon, acronyms and anything likely to derail the discussion.

Visuals:
- Every slide except those holding tables or charts needs an image.
- Search for images with COMPOSIO_SEARCH_IMAGE first; if they fail or are rejected, generate one with the GEMINI toolkit instead. Retry with different queries before moving on and never ask the user what to do about a failed image.

Execution:
- Check that the user has an active Google Slides connection before starting.
- Create the actual presentation with the available tools rather than describing it.
- If a tool call fails, explain the error plainly and ask the user to try again.`

// ModelSet holds the configured providers keyed by provider name.
type ModelSet map[string]client.ChatModel

// ToolProvider opens the per-user toolset for one chat request.
type ToolProvider interface {
	OpenToolset(ctx context.Context, userID string, toolkits []string) (client.Toolset, error)
}

// ChatService turns a chat request into a streamed model completion,
// running tool calls between model turns.
type ChatService struct {
	models       ModelSet
	defaultModel string
	tools        ToolProvider
	metrics      *metrics.Metrics
	log          *logrus.Entry
}

// NewChatService builds the service. A nil tools provider streams plain
// completions without tools.
func NewChatService(models ModelSet, defaultModel string, tools ToolProvider, m *metrics.Metrics) *ChatService {
	if defaultModel == "" {
		defaultModel = DefaultModelID
	}
	return &ChatService{
		models:       models,
		defaultModel: defaultModel,
		tools:        tools,
		metrics:      m,
		log:          logrus.WithField("component", "chat"),
	}
}

func (s *ChatService) DefaultModel() string {
	return s.defaultModel
}

// Validate checks the request shape and converts it into prompt messages.
// Only the message count is enforced; messages without text, such as file
// or tool parts, are left out of the prompt rather than rejected.
func (s *ChatService) Validate(req model.ChatRequest) ([]model.PromptMessage, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages is required", ErrInvalidChatRequest)
	}
	if len(req.Messages) > maxChatMessages {
		return nil, fmt.Errorf("%w: at most %d messages", ErrInvalidChatRequest, maxChatMessages)
	}

	prompt := make([]model.PromptMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case "user", "assistant", "system":
		default:
			continue
		}
		text := strings.TrimSpace(msg.TextContent())
		if text == "" {
			continue
		}
		prompt = append(prompt, model.PromptMessage{Role: role, Content: text})
	}
	return prompt, nil
}

// Resolve maps "provider/name" onto a configured provider. Unknown or
// unconfigured providers fall back to the default model.
func (s *ChatService) Resolve(modelID string) (string, string, client.ChatModel, error) {
	if provider, name, ok := splitModelID(modelID); ok {
		if m, ok := s.models[provider]; ok {
			return provider, name, m, nil
		}
	}
	if provider, name, ok := splitModelID(s.defaultModel); ok {
		if m, ok := s.models[provider]; ok {
			return provider, name, m, nil
		}
	}
	return "", "", nil, ErrModelUnavailable
}

// Stream validates req and streams the model output through emit. When a
// tool provider is configured the model may call tools; their results are
// fed back and the model runs again, for at most maxToolSteps turns.
func (s *ChatService) Stream(ctx context.Context, userID string, req model.ChatRequest, emit func(string) error) error {
	prompt, err := s.Validate(req)
	if err != nil {
		return err
	}

	modelID := s.defaultModel
	if req.Model != nil && strings.TrimSpace(*req.Model) != "" {
		modelID = strings.TrimSpace(*req.Model)
	}
	provider, name, m, err := s.Resolve(modelID)
	if err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"user_id": userID, "model": provider + "/" + name})

	var toolset client.Toolset
	if s.tools != nil {
		toolset, err = s.tools.OpenToolset(ctx, userID, PresentationToolkits)
		if err != nil {
			log.WithError(err).Error("Failed to open toolset")
			s.metrics.ChatStream(provider, "error")
			return fmt.Errorf("failed to open toolset: %w", err)
		}
		defer func() {
			if err := toolset.Close(); err != nil {
				log.WithError(err).Warn("Failed to close toolset")
			}
		}()
	}

	modelReq := client.ModelRequest{
		Model:    name,
		System:   presentationSystemPrompt,
		Messages: prompt,
	}
	if toolset != nil {
		modelReq.Tools = toolset.Tools()
	}

	steps, err := s.runSteps(ctx, m, modelReq, toolset, emit, log)
	if err != nil {
		log.WithError(err).WithField("steps", steps).Error("Chat stream failed")
		s.metrics.ChatStream(provider, "error")
		return err
	}

	s.metrics.ChatStream(provider, "ok")
	log.WithFields(logrus.Fields{"messages": len(prompt), "steps": steps}).Debug("Chat stream finished")
	return nil
}

// runSteps drives the model until it stops asking for tools or the step
// cap is reached, and returns the number of model turns taken.
func (s *ChatService) runSteps(ctx context.Context, m client.ChatModel, req client.ModelRequest, toolset client.Toolset, emit func(string) error, log *logrus.Entry) (int, error) {
	for step := 1; ; step++ {
		var text strings.Builder
		calls, err := m.Stream(ctx, req, func(delta string) error {
			text.WriteString(delta)
			return emit(delta)
		})
		if err != nil {
			// A silent turn after tool results still ends the conversation cleanly.
			if errors.Is(err, client.ErrEmptyStream) && len(req.Steps) > 0 {
				return step, nil
			}
			return step, err
		}
		if len(calls) == 0 || toolset == nil {
			return step, nil
		}

		results := make([]client.ToolResult, 0, len(calls))
		for _, call := range calls {
			res := toolset.Call(ctx, call)
			if err := ctx.Err(); err != nil {
				return step, err
			}
			outcome := "ok"
			if res.IsError {
				outcome = "error"
			}
			s.metrics.ToolCall(call.Name, outcome)
			log.WithFields(logrus.Fields{"tool": call.Name, "outcome": outcome}).Info("Tool call finished")
			results = append(results, res)
		}
		req.Steps = append(req.Steps, client.ToolStep{Text: text.String(), Calls: calls, Results: results})

		if step >= maxToolSteps {
			log.WithField("steps", step).Warn("Tool step limit reached")
			return step, nil
		}
	}
}

func splitModelID(id string) (string, string, bool) {
	provider, name, ok := strings.Cut(strings.TrimSpace(id), "/")
	if !ok || provider == "" || name == "" {
		return "", "", false
	}
	return provider, name, true
}
