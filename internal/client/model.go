package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/open-gamma/backend/internal/model"
)

var ErrEmptyStream = errors.New("model returned no output")

// toolArguments returns raw as a JSON object, defaulting to {}.
func toolArguments(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// ModelRequest is a provider-neutral completion request. Steps replays the
// tool turns of the current request after Messages.
type ModelRequest struct {
	Model    string
	System   string
	Messages []model.PromptMessage
	Tools    []Tool
	Steps    []ToolStep
}

// ChatModel streams one model turn. emit is called once per text delta; an
// error returned by emit aborts the stream. The returned calls are the tools
// the model asked for at the end of the turn, empty when it is done.
// ErrEmptyStream means the turn produced neither text nor tool calls.
type ChatModel interface {
	Stream(ctx context.Context, req ModelRequest, emit func(delta string) error) ([]ToolCall, error)
}

// readSSE calls fn with the payload of every "data:" line until fn returns
// done or the body ends.
func readSSE(body io.Reader, fn func(data string) (done bool, err error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		done, err := fn(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}
