package identity

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribeserver/internal/config"
	"scribeserver/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite3"))
	t.Cleanup(func() { db.Close() })
	return db
}

func exerciseStore(t *testing.T, store Store, email string) {
	t.Helper()
	ctx := context.Background()

	created, err := store.Create(ctx, email, "hash")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, email, created.Email)

	byID, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, email, byID.Email)
	assert.Equal(t, "hash", byID.PasswordHash)

	byEmail, err := store.FindByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = store.Create(ctx, email, "other")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = store.FindByEmail(ctx, "nobody-"+email)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.FindByID(ctx, "not-an-id")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLStore(t *testing.T) {
	store := NewSQLStore(openTestDB(t))
	exerciseStore(t, store, "alice@example.com")

	_, err := store.FindByID(context.Background(), "999")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set TEST_MONGO_URI to run mongo-backed identity tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := OpenMongo(ctx, uri)
	require.NoError(t, err)
	defer store.Close(context.Background())

	email := fmt.Sprintf("tester_%d@example.com", time.Now().UnixNano())
	exerciseStore(t, store, email)

	_, err = store.users.DeleteOne(ctx, map[string]string{"email": email})
	require.NoError(t, err)
}
