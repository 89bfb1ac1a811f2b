package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/open-gamma/backend/internal/model"
)

func (db *Postgres) EnsureChatSchema(ctx context.Context) error {
	return db.exec(ctx, []string{
		`
		CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT 'New Chat',
			model TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS chats_user_updated_idx ON chats(user_id, updated_at DESC)`,
		`
		CREATE TABLE IF NOT EXISTS chat_messages (
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			parts JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, id)
		)
		`,
		`CREATE INDEX IF NOT EXISTS chat_messages_chat_position_idx ON chat_messages(chat_id, position)`,
	})
}

const chatColumns = `id::text, user_id, title, model, created_at, updated_at`

func scanChat(row pgx.Row) (*model.Chat, error) {
	var chat model.Chat
	if err := row.Scan(
		&chat.ID,
		&chat.UserID,
		&chat.Title,
		&chat.Model,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (db *Postgres) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	query := `SELECT ` + chatColumns + `
		FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []model.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func (db *Postgres) CreateChat(ctx context.Context, userID, title string, modelID *string) (*model.Chat, error) {
	query := `
		INSERT INTO chats (id, user_id, title, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + chatColumns
	return scanChat(db.Pool.QueryRow(ctx, query, uuid.NewString(), userID, title, modelID))
}

// GetChat returns pgx.ErrNoRows when the chat does not exist or belongs to
// another user.
func (db *Postgres) GetChat(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	query := `SELECT ` + chatColumns + `
		FROM chats
		WHERE id = $1 AND user_id = $2`
	return scanChat(db.Pool.QueryRow(ctx, query, chatID, userID))
}

// UpdateChat changes the non-empty fields and bumps updated_at.
func (db *Postgres) UpdateChat(ctx context.Context, chatID, userID, title, modelID string) (*model.Chat, error) {
	query := `
		UPDATE chats
		SET title = COALESCE(NULLIF($3, ''), title),
			model = COALESCE(NULLIF($4, ''), model),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + chatColumns
	return scanChat(db.Pool.QueryRow(ctx, query, chatID, userID, title, modelID))
}

func (db *Postgres) DeleteChat(ctx context.Context, chatID, userID string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *Postgres) ListMessages(ctx context.Context, chatID string) ([]model.UIMessage, error) {
	query := `
		SELECT id, role, parts, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY position ASC`

	rows, err := db.Pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.UIMessage{}
	for rows.Next() {
		var (
			msg       model.UIMessage
			rawParts  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &rawParts, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawParts, &msg.Parts); err != nil {
			return nil, fmt.Errorf("decode parts of message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = &createdAt
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ReplaceMessages swaps the stored transcript of a chat in one transaction.
// A non-nil title renames the chat as well.
func (db *Postgres) ReplaceMessages(ctx context.Context, chatID string, messages []model.UIMessage, title *string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM chat_messages WHERE chat_id = $1`, chatID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	now := time.Now()
	for i, msg := range messages {
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("encode parts of message %s: %w", msg.ID, err)
		}
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := now
		if msg.CreatedAt != nil {
			createdAt = *msg.CreatedAt
		}
		batch.Queue(`
			INSERT INTO chat_messages (chat_id, id, position, role, content, parts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, chatID, id, i, msg.Role, msg.TextContent(), parts, createdAt)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE chats
		SET title = COALESCE($2, title),
			updated_at = NOW()
		WHERE id = $1
	`, chatID, title); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
