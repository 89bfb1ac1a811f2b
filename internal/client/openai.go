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

	"golang.org/x/oauth2"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIModel streams chat completions. The API key is attached as a bearer
// token by an oauth2 static token source.
type OpenAIModel struct {
	baseURL    string
	httpClient *http.Client
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int                `json:"index"`
				ID       string             `json:"id"`
				Function openAIFunctionCall `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// pendingCall accumulates a streamed tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func NewOpenAIModel(apiKey, baseURL string) *OpenAIModel {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: apiKey,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = 120 * time.Second

	return &OpenAIModel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (m *OpenAIModel) Stream(ctx context.Context, req ModelRequest, emit func(string) error) ([]ToolCall, error) {
	payload, err := json.Marshal(newOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(detail))
	}

	emitted := false
	pending := map[int]*pendingCall{}
	var order []int
	err = readSSE(resp.Body, func(data string) (bool, error) {
		if data == "[DONE]" {
			return true, nil
		}
		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, fmt.Errorf("failed to parse openai chunk: %w", err)
		}
		if chunk.Error != nil {
			return false, fmt.Errorf("openai stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := pending[tc.Index]
				if !ok {
					call = &pendingCall{}
					pending[tc.Index] = call
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					call.id = tc.ID
				}
				if tc.Function.Name != "" {
					call.name = tc.Function.Name
				}
				call.args.WriteString(tc.Function.Arguments)
			}
			if choice.Delta.Content == "" {
				continue
			}
			emitted = true
			if err := emit(choice.Delta.Content); err != nil {
				return false, err
			}
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

func newOpenAIRequest(req ModelRequest) openAIRequest {
	body := openAIRequest{Model: req.Model, Stream: true}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: msg.Role, Content: msg.Content})
	}
	for _, step := range req.Steps {
		assistant := openAIMessage{Role: "assistant", Content: step.Text}
		for _, call := range step.Calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openAIToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: openAIFunctionCall{Name: call.Name, Arguments: string(call.Arguments)},
			})
		}
		body.Messages = append(body.Messages, assistant)
		for _, res := range step.Results {
			body.Messages = append(body.Messages, openAIMessage{Role: "tool", Content: res.Content, ToolCallID: res.CallID})
		}
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.InputSchema},
		})
	}
	return body
}
