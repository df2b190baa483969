package postgres

import (
	"companion-backend/internal/models"
	"companion-backend/internal/store"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to TEST_DATABASE_URL, skipping when it is unset.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	s := NewPostgresStore(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestPostgresStore_SaveAndLoadRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := "pg-test-" + uuid.NewString()
	t.Cleanup(func() { _ = s.DeleteConversation(context.Background(), userID) })

	base := time.Now().UTC().Truncate(time.Millisecond)
	msgs := []models.Message{
		{ID: uuid.New(), Role: models.RoleSystem, Content: "preamble", CreatedAt: base},
		{ID: uuid.New(), Role: models.RoleUser, Content: "one", CreatedAt: base.Add(time.Second)},
		{ID: uuid.New(), Role: models.RoleAssistant, Content: "two", CreatedAt: base.Add(2 * time.Second)},
		{ID: uuid.New(), Role: models.RoleUser, Content: "three", CreatedAt: base.Add(3 * time.Second)},
	}
	require.NoError(t, s.SaveMessages(ctx, userID, "bella", msgs))

	// Saving the same IDs again is a no-op.
	require.NoError(t, s.SaveMessages(ctx, userID, "bella", msgs[1:2]))

	recent, err := s.LoadRecent(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)
	assert.Equal(t, models.RoleUser, recent[1].Role)

	all, err := s.LoadRecent(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3, "system messages are not restored")
}

func TestPostgresStore_DeleteConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	userID := "pg-test-" + uuid.NewString()

	require.NoError(t, s.SaveMessages(ctx, userID, "alex", []models.Message{models.NewMessage(models.RoleUser, "hi")}))
	require.NoError(t, s.DeleteConversation(ctx, userID))
	assert.ErrorIs(t, s.DeleteConversation(ctx, userID), store.ErrNotFound)

	recent, err := s.LoadRecent(ctx, userID, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestPostgresStore_LoadRecentNonPositiveLimit(t *testing.T) {
	s := newTestStore(t)
	recent, err := s.LoadRecent(context.Background(), "anyone", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
