package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/open-gamma/backend/internal/db"
	"github.com/open-gamma/backend/internal/model"
)

const maxTitleLength = 50

var ErrChatNotFound = errors.New("chat not found")

type ChatStore interface {
	EnsureUserExists(ctx context.Context, userID string) error
	ListChats(ctx context.Context, userID string) ([]model.Chat, error)
	CreateChat(ctx context.Context, userID, title string, modelID *string) (*model.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error)
	UpdateChat(ctx context.Context, chatID, userID, title, modelID string) (*model.Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) (bool, error)
	ListMessages(ctx context.Context, chatID string) ([]model.UIMessage, error)
	ReplaceMessages(ctx context.Context, chatID string, messages []model.UIMessage, title *string) error
}

// ChatHistoryService persists chats and their transcripts per user.
type ChatHistoryService struct {
	store ChatStore
}

func NewChatHistoryService(store ChatStore) *ChatHistoryService {
	return &ChatHistoryService{store: store}
}

func (s *ChatHistoryService) List(ctx context.Context, userID string) ([]model.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

func (s *ChatHistoryService) Create(ctx context.Context, userID string, req model.CreateChatRequest) (*model.Chat, error) {
	if err := s.store.EnsureUserExists(ctx, userID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = model.DefaultChatTitle
	}
	var modelID *string
	if m := strings.TrimSpace(req.Model); m != "" {
		modelID = &m
	}
	return s.store.CreateChat(ctx, userID, title, modelID)
}

func (s *ChatHistoryService) Get(ctx context.Context, userID, chatID string) (*model.ChatWithMessages, error) {
	chat, err := s.owned(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return &model.ChatWithMessages{Chat: *chat, Messages: messages}, nil
}

func (s *ChatHistoryService) Update(ctx context.Context, userID, chatID string, req model.UpdateChatRequest) (*model.Chat, error) {
	if !validChatID(chatID) {
		return nil, ErrChatNotFound
	}
	chat, err := s.store.UpdateChat(ctx, chatID, userID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Model))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

func (s *ChatHistoryService) Delete(ctx context.Context, userID, chatID string) error {
	if !validChatID(chatID) {
		return ErrChatNotFound
	}
	deleted, err := s.store.DeleteChat(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrChatNotFound
	}
	return nil
}

// SaveMessages replaces the transcript of a chat. A chat still carrying the
// default title is renamed after its first user message.
func (s *ChatHistoryService) SaveMessages(ctx context.Context, userID, chatID string, messages []model.UIMessage) (*model.SaveMessagesResponse, error) {
	chat, err := s.owned(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages array is required", ErrInvalidInput)
	}

	var title *string
	if chat.Title == model.DefaultChatTitle {
		for _, msg := range messages {
			if msg.Role == "user" {
				t := GenerateTitle(msg.TextContent())
				title = &t
				break
			}
		}
	}

	if err := s.store.ReplaceMessages(ctx, chat.ID, messages, title); err != nil {
		return nil, err
	}
	return &model.SaveMessagesResponse{
		Success:      true,
		MessageCount: len(messages),
		Title:        title,
	}, nil
}

func (s *ChatHistoryService) owned(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	if !validChatID(chatID) {
		return nil, ErrChatNotFound
	}
	chat, err := s.store.GetChat(ctx, chatID, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

// GenerateTitle flattens content onto one line and caps it at 50 characters.
func GenerateTitle(content string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(content), "\n", " ")
	if utf8.RuneCountInString(cleaned) <= maxTitleLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:maxTitleLength-3]) + "..."
}

func validChatID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
