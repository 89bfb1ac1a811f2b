package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GoogleModel streams Gemini completions through the genai SDK.
type GoogleModel struct {
	client *genai.Client
}

func NewGoogleModel(ctx context.Context, apiKey string) (*GoogleModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GOOGLE_API_KEY")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GoogleModel{client: c}, nil
}

func (m *GoogleModel) Stream(ctx context.Context, req ModelRequest, emit func(string) error) ([]ToolCall, error) {
	system, contents := toGenaiContents(req)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if decls := toGenaiFunctions(req.Tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	emitted := false
	var calls []ToolCall
	for res, err := range m.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			return nil, err
		}
		if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
			continue
		}
		for _, part := range res.Candidates[0].Content.Parts {
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to encode gemini function args: %w", err)
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", len(calls))
				}
				calls = append(calls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: toolArguments(string(args))})
				continue
			}
			if part.Text == "" || part.Thought {
				continue
			}
			emitted = true
			if err := emit(part.Text); err != nil {
				return nil, err
			}
		}
	}
	if !emitted && len(calls) == 0 {
		return nil, ErrEmptyStream
	}
	return calls, nil
}

func toGenaiContents(req ModelRequest) (string, []*genai.Content) {
	system := req.System
	contents := make([]*genai.Content, 0, len(req.Messages)+2*len(req.Steps))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	for _, step := range req.Steps {
		var parts []*genai.Part
		if step.Text != "" {
			parts = append(parts, genai.NewPartFromText(step.Text))
		}
		for _, call := range step.Calls {
			var args map[string]any
			_ = json.Unmarshal(call.Arguments, &args)
			part := genai.NewPartFromFunctionCall(call.Name, args)
			part.FunctionCall.ID = call.ID
			parts = append(parts, part)
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		responses := make([]*genai.Part, 0, len(step.Results))
		for _, res := range step.Results {
			key := "output"
			if res.IsError {
				key = "error"
			}
			part := genai.NewPartFromFunctionResponse(res.Name, map[string]any{key: res.Content})
			part.FunctionResponse.ID = res.CallID
			responses = append(responses, part)
		}
		contents = append(contents, genai.NewContentFromParts(responses, genai.RoleUser))
	}
	return system, contents
}

func toGenaiFunctions(tools []Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object"}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: schema,
		})
	}
	return decls
}
