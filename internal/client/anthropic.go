package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 8192
)

type AnthropicModel struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// anthropicMessage content is either a string or a list of content blocks.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropicModel(apiKey, baseURL string) *AnthropicModel {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (m *AnthropicModel) Stream(ctx context.Context, req ModelRequest, emit func(string) error) ([]ToolCall, error) {
	payload, err := json.Marshal(newAnthropicRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", m.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, string(detail))
	}

	emitted := false
	pending := map[int]*pendingCall{}
	var order []int
	err = readSSE(resp.Body, func(data string) (bool, error) {
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, fmt.Errorf("failed to parse anthropic event: %w", err)
		}
		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &pendingCall{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					return false, nil
				}
				emitted = true
				return false, emit(ev.Delta.Text)
			case "input_json_delta":
				if call, ok := pending[ev.Index]; ok {
					call.args.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_stop":
			return true, nil
		case "error":
			msg := "unknown"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return false, fmt.Errorf("anthropic stream error: %s", msg)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	calls := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		p := pending[idx]
		calls = append(calls, ToolCall{ID: p.id, Name: p.name, Arguments: toolArguments(p.args.String())})
	}
	if !emitted && len(calls) == 0 {
		return nil, ErrEmptyStream
	}
	return calls, nil
}

func newAnthropicRequest(req ModelRequest) anthropicRequest {
	body := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	}
	// The messages API takes system text separately and only user/assistant turns.
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			body.System = strings.TrimSpace(body.System + "\n\n" + msg.Content)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	for _, step := range req.Steps {
		var blocks []anthropicBlock
		if step.Text != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: step.Text})
		}
		for _, call := range step.Calls {
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: call.Arguments})
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: "assistant", Content: blocks})

		results := make([]anthropicBlock, 0, len(step.Results))
		for _, res := range step.Results {
			results = append(results, anthropicBlock{Type: "tool_result", ToolUseID: res.CallID, Content: res.Content, IsError: res.IsError})
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: "user", Content: results})
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema})
	}
	return body
}
