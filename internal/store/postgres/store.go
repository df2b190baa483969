package postgres

import (
	"companion-backend/internal/models"
	"companion-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to ensure PostgresStore implements store.Archive
var _ store.Archive = (*PostgresStore)(nil)

// PostgresStore archives completed turns so history can be restored after a restart.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const createSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    seq        BIGSERIAL PRIMARY KEY,
    id         UUID NOT NULL UNIQUE,
    user_id    TEXT NOT NULL,
    persona    TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS conversation_messages_user_seq_idx
    ON conversation_messages (user_id, seq DESC);
`

// EnsureSchema creates the archive table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createSchema); err != nil {
		return fmt.Errorf("database error creating conversation schema: %w", err)
	}
	log.Println("[PostgresStore] Conversation archive schema ensured.")
	return nil
}

const insertMessage = `-- name: InsertMessage :exec
INSERT INTO conversation_messages (id, user_id, persona, role, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING;
`

// SaveMessages appends messages for a user in one transaction, preserving their order.
func (s *PostgresStore) SaveMessages(ctx context.Context, userID, persona string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed

	for _, msg := range msgs {
		_, err := tx.Exec(ctx, insertMessage,
			msg.ID,
			userID,
			persona,
			string(msg.Role),
			msg.Content,
			msg.CreatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				log.Printf("ERROR [PostgresStore] SaveMessages: PostgreSQL error for user %s: Code=%s, Message=%s, Detail=%s", userID, pgErr.Code, pgErr.Message, pgErr.Detail)
			}
			return fmt.Errorf("database error archiving message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

const loadRecent = `-- name: LoadRecent :many
SELECT id, role, content, created_at
FROM (
    SELECT seq, id, role, content, created_at
    FROM conversation_messages
    WHERE user_id = $1 AND role <> 'system'
    ORDER BY seq DESC
    LIMIT $2
) recent
ORDER BY seq ASC;
`

// LoadRecent returns up to limit of the newest archived non-system messages, oldest first.
func (s *PostgresStore) LoadRecent(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}

	rows, err := s.db.Query(ctx, loadRecent, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("database error loading archived messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		var msg models.Message
		var role string
		if err := row.Scan(&msg.ID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return models.Message{}, err
		}
		msg.Role = models.Role(role)
		return msg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan archived messages: %w", err)
	}

	log.Printf("[PostgresStore] LoadRecent: Restored %d messages for user %s", len(msgs), userID)
	return msgs, nil
}

// DeleteConversation removes every archived message for a user.
func (s *PostgresStore) DeleteConversation(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversation_messages WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("database error deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
