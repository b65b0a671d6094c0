package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportMappingLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m, err := db.ExportMapping(ctx, 1, "Joplin")
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, db.UpsertExportMapping(ctx, 1, "Joplin", "ext-aaa"))

	m, err = db.ExportMapping(ctx, 1, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.NoteID)
	assert.Equal(t, "Joplin", m.System)
	assert.Equal(t, "ext-aaa", m.ExternalID)
	assert.WithinDuration(t, time.Now().UTC(), m.ExportedAt, time.Minute)

	// the pair is unique: a second upsert replaces, it does not add
	require.NoError(t, db.UpsertExportMapping(ctx, 1, "Joplin", "ext-bbb"))

	m, err = db.ExportMapping(ctx, 1, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "ext-bbb", m.ExternalID)

	require.NoError(t, db.DeleteExportMapping(ctx, 1, "Joplin"))

	m, err = db.ExportMapping(ctx, 1, "Joplin")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestExportMappingPerSystem(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertExportMapping(ctx, 7, "Joplin", "j-1"))
	require.NoError(t, db.UpsertExportMapping(ctx, 7, "Other", "o-1"))

	m, err := db.ExportMapping(ctx, 7, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "j-1", m.ExternalID)

	m, err = db.ExportMapping(ctx, 7, "Other")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "o-1", m.ExternalID)
}

func TestResetExportMappings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertExportMapping(ctx, 1, "Joplin", "j-1"))
	require.NoError(t, db.UpsertExportMapping(ctx, 2, "Joplin", "j-2"))
	require.NoError(t, db.UpsertExportMapping(ctx, 1, "Other", "o-1"))

	require.NoError(t, db.ResetExportMappings(ctx, "Joplin"))

	for _, noteID := range []int64{1, 2} {
		m, err := db.ExportMapping(ctx, noteID, "Joplin")
		require.NoError(t, err)
		assert.Nil(t, m)
	}

	// other systems keep their mappings
	m, err := db.ExportMapping(ctx, 1, "Other")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "o-1", m.ExternalID)
}

func TestSettingsRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var got payload
	ok, err := db.GetSetting(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutSetting(ctx, "k", payload{Name: "x", Count: 3}))

	ok, err = db.GetSetting(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "x", Count: 3}, got)

	// overwrite
	require.NoError(t, db.PutSetting(ctx, "k", payload{Name: "y", Count: 4}))
	ok, err = db.GetSetting(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", got.Name)

	require.NoError(t, db.DeleteSetting(ctx, "k"))
	ok, err = db.GetSetting(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
