package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            external_id TEXT NOT NULL UNIQUE,
            username TEXT NOT NULL DEFAULT '',
            display_name TEXT,
            email TEXT NOT NULL DEFAULT '',
            avatar_url TEXT,
            last_seen_at TIMESTAMPTZ
        );`,
	`CREATE TABLE IF NOT EXISTS conversations (
            id SERIAL PRIMARY KEY,
            type TEXT NOT NULL CHECK (type IN ('direct', 'group', 'location', 'broadcast')),
            name TEXT,
            avatar_url TEXT,
            direct_key TEXT,
            created_by INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_message_at TIMESTAMPTZ,
            last_message_preview TEXT,
            last_message_sender_id INT,
            participant_count INT NOT NULL DEFAULT 0,
            message_count INT NOT NULL DEFAULT 0,
            is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
            pinned_at TIMESTAMPTZ,
            is_archived BOOLEAN NOT NULL DEFAULT FALSE,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            CHECK (type <> 'direct' OR direct_key IS NOT NULL)
        );`,
	// One active direct conversation per unordered pair.
	`CREATE UNIQUE INDEX IF NOT EXISTS conversations_direct_key_active
            ON conversations (direct_key) WHERE type = 'direct' AND is_active;`,
	`CREATE TABLE IF NOT EXISTS participants (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL REFERENCES conversations(id),
            user_id INT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'moderator', 'member')),
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            left_at TIMESTAMPTZ,
            last_read_at TIMESTAMPTZ,
            notification_settings JSONB NOT NULL DEFAULT '{}'::jsonb
        );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS participants_active_member
            ON participants (conversation_id, user_id) WHERE left_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS participants_user_active
            ON participants (user_id) WHERE left_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL REFERENCES conversations(id),
            sender_id INT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'system', 'deleted')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            is_edited BOOLEAN NOT NULL DEFAULT FALSE,
            deleted_at TIMESTAMPTZ,
            deleted_by INT,
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            media JSONB,
            reply_to_id INT REFERENCES messages(id),
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb
        );`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_order
            ON messages (conversation_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS receipts (
            message_id INT NOT NULL REFERENCES messages(id),
            user_id INT NOT NULL,
            delivered_at TIMESTAMPTZ,
            read_at TIMESTAMPTZ,
            PRIMARY KEY (message_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS reactions (
            message_id INT NOT NULL REFERENCES messages(id),
            user_id INT NOT NULL,
            kind TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id, kind)
        );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
