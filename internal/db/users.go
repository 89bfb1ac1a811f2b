package db

import "context"

const linkedUserName = "Composio User"

func (db *Postgres) EnsureUserSchema(ctx context.Context) error {
	return db.exec(ctx, []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
	})
}

// EnsureUserExists creates the local record for a linked identity. Calling it
// again for the same identity is a no-op.
func (db *Postgres) EnsureUserExists(ctx context.Context, userID string) error {
	query := `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := db.Pool.Exec(ctx, query, userID, userID+"@composio.local", linkedUserName)
	return err
}
