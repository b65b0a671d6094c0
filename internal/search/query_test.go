package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notedrop/notedrop/internal/storage"
)

func openTestStore(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "notes.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestEngineTrimsQuery(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	ctx := context.Background()

	id, err := db.Insert(ctx, "buy milk", "", "", "")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "   milk \n")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestEngineWhitespaceOnlyIsRecentListing(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	ctx := context.Background()

	_, err := db.Insert(ctx, "one", "", "", "")
	require.NoError(t, err)
	_, err = db.Insert(ctx, "two", "", "", "")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "   ")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEngineSurfacesBadQuery(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	ctx := context.Background()

	_, err := db.Insert(ctx, "anything", "", "", "")
	require.NoError(t, err)

	_, err = engine.Search(ctx, "AND (")
	assert.ErrorIs(t, err, storage.ErrBadQuery)
}

func TestHelpDocumentsOperators(t *testing.T) {
	for _, op := range []string{"AND", "OR", "NOT", `"golem of prague"`, "gol*"} {
		assert.Contains(t, Help, op)
	}
}
