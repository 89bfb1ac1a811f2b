package model

import (
	"strings"
	"time"
)

const DefaultChatTitle = "New Chat"

// MessagePart is one part of a UI message. Only "text" parts carry model
// input; tool invocations and files are stored as received.
type MessagePart map[string]any

func (p MessagePart) Type() string {
	t, _ := p["type"].(string)
	return t
}

func (p MessagePart) Text() string {
	if p.Type() != "text" {
		return ""
	}
	t, _ := p["text"].(string)
	return t
}

type UIMessage struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Parts     []MessagePart `json:"parts"`
	Content   string        `json:"content,omitempty"`
	CreatedAt *time.Time    `json:"createdAt,omitempty"`
}

// TextContent joins the text parts, falling back to the legacy content field.
func (m UIMessage) TextContent() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text())
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

type ChatRequest struct {
	Messages []UIMessage `json:"messages"`
	Model    *string     `json:"model"`
}

// PromptMessage is the provider-neutral form sent to a model.
type PromptMessage struct {
	Role    string
	Content string
}

type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Model     *string   `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ChatWithMessages struct {
	Chat
	Messages []UIMessage `json:"messages"`
}

type CreateChatRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type UpdateChatRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type SaveMessagesRequest struct {
	Messages []UIMessage `json:"messages"`
}

type SaveMessagesResponse struct {
	Success      bool    `json:"success"`
	MessageCount int     `json:"messageCount"`
	Title        *string `json:"title"`
}

type ChatListResponse struct {
	Chats []Chat `json:"chats"`
}

type ChatEnvelope struct {
	Chat *Chat `json:"chat"`
}

type ChatDetailEnvelope struct {
	Chat *ChatWithMessages `json:"chat"`
}

type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type ModelListResponse struct {
	Models  []ModelInfo `json:"models"`
	Default string      `json:"default"`
}
