package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notedrop/notedrop/internal/joplin"
	"github.com/notedrop/notedrop/internal/storage"
)

// fakeJoplin is just enough of the Web Clipper API for exporter tests.
type fakeJoplin struct {
	mu          sync.Mutex
	nextID      int
	folders     []joplin.Folder
	notes       map[string]map[string]string
	tags        []joplin.Tag
	noteTag     map[string]map[string]bool // note id → tag titles
	folderDelay time.Duration              // slows GET /folders to widen races
}

func newFakeJoplin() *fakeJoplin {
	return &fakeJoplin{
		notes:   map[string]map[string]string{},
		noteTag: map[string]map[string]bool{},
	}
}

func (f *fakeJoplin) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeJoplin) tagTitle(tagID string) string {
	for _, t := range f.tags {
		if t.ID == tagID {
			return t.Title
		}
	}
	return ""
}

func (f *fakeJoplin) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "JoplinClipperServer")
	})

	mux.HandleFunc("GET /folders", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(f.folderDelay)
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(joplin.Page[joplin.Folder]{Items: f.folders})
	})

	mux.HandleFunc("POST /folders", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title string `json:"title"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		folder := joplin.Folder{ID: f.id("folder"), Title: body.Title}
		f.folders = append(f.folders, folder)
		json.NewEncoder(w).Encode(folder)
	})

	mux.HandleFunc("POST /notes", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.id("note")
		f.notes[id] = body
		json.NewEncoder(w).Encode(joplin.Note{ID: id})
	})

	mux.HandleFunc("PUT /notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		f.mu.Lock()
		defer f.mu.Unlock()
		fields, ok := f.notes[id]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			fields[k] = v
		}
		json.NewEncoder(w).Encode(joplin.Note{ID: id})
	})

	mux.HandleFunc("GET /tags", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(joplin.Page[joplin.Tag]{Items: f.tags})
	})

	mux.HandleFunc("POST /tags", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title string `json:"title"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		tag := joplin.Tag{ID: f.id("tag"), Title: body.Title}
		f.tags = append(f.tags, tag)
		json.NewEncoder(w).Encode(tag)
	})

	mux.HandleFunc("POST /tags/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		tagID := r.PathValue("id")

		var body struct {
			ID string `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.noteTag[body.ID] == nil {
			f.noteTag[body.ID] = map[string]bool{}
		}
		f.noteTag[body.ID][f.tagTitle(tagID)] = true
		fmt.Fprint(w, "{}")
	})

	return mux
}

// setupJoplin stores a working configuration pointing at the fake server.
func setupJoplin(t *testing.T, db *storage.DB) (*Joplin, *fakeJoplin) {
	t.Helper()

	fake := newFakeJoplin()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	exporter := NewJoplin(db)
	err := exporter.ConfigStore().Save(context.Background(), joplin.Config{
		BaseURL: srv.URL,
		Token:   "tok",
	})
	require.NoError(t, err)

	return exporter, fake
}

func TestJoplinConfigStore(t *testing.T) {
	db := openTestStore(t)
	store := NewJoplinConfigStore(db)
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, store.Save(ctx, joplin.Config{BaseURL: "http://127.0.0.1:41184", Token: "abc"}))

	cfg, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "http://127.0.0.1:41184", cfg.BaseURL)
	assert.Equal(t, "abc", cfg.Token)

	require.NoError(t, store.Clear(ctx))

	cfg, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestJoplinExportEndToEnd(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	exporter, fake := setupJoplin(t, db)
	ctx := context.Background()

	note := insertNote(t, db)

	require.NoError(t, engine.Export(ctx, note, exporter))

	m, err := db.ExportMapping(ctx, note.ID, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m)

	fake.mu.Lock()
	remote := fake.notes[m.ExternalID]
	require.NotNil(t, remote)
	assert.Equal(t, note.Note, remote["title"])
	assert.Contains(t, remote["body"], "# buy milk")
	assert.Contains(t, remote["body"], "**Tags:** a b")

	// the fixed system tag plus the note's own tags were applied
	applied := fake.noteTag[m.ExternalID]
	assert.True(t, applied["notedrop"])
	assert.True(t, applied["a"])
	assert.True(t, applied["b"])
	fake.mu.Unlock()
}

func TestJoplinExportTwiceKeepsOneRecord(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	exporter, fake := setupJoplin(t, db)
	ctx := context.Background()

	note := insertNote(t, db)

	require.NoError(t, engine.Export(ctx, note, exporter))

	m1, err := db.ExportMapping(ctx, note.ID, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m1)

	require.NoError(t, engine.Export(ctx, note, exporter))

	m2, err := db.ExportMapping(ctx, note.ID, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.Equal(t, m1.ExternalID, m2.ExternalID)

	fake.mu.Lock()
	assert.Len(t, fake.notes, 1)
	fake.mu.Unlock()
}

func TestJoplinConcurrentExportsShareOneNotebook(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	exporter, fake := setupJoplin(t, db)
	fake.folderDelay = 150 * time.Millisecond
	ctx := context.Background()

	// different notes, so the per-note export lock does not serialize
	// them and both resolve the default notebook at the same time
	first := insertNote(t, db)
	second := insertNote(t, db)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, note := range []*storage.Note{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = engine.Export(ctx, note, exporter)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	fake.mu.Lock()
	assert.Len(t, fake.folders, 1)
	assert.Len(t, fake.notes, 2)
	fake.mu.Unlock()
}

func TestJoplinExportHealsDeletedRemote(t *testing.T) {
	db := openTestStore(t)
	engine := NewEngine(db)
	exporter, fake := setupJoplin(t, db)
	ctx := context.Background()

	note := insertNote(t, db)

	require.NoError(t, engine.Export(ctx, note, exporter))

	m1, err := db.ExportMapping(ctx, note.ID, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m1)

	// the user deletes the note inside Joplin
	fake.mu.Lock()
	delete(fake.notes, m1.ExternalID)
	fake.mu.Unlock()

	require.NoError(t, engine.Export(ctx, note, exporter))

	m2, err := db.ExportMapping(ctx, note.ID, "Joplin")
	require.NoError(t, err)
	require.NotNil(t, m2)
	assert.NotEqual(t, m1.ExternalID, m2.ExternalID)

	fake.mu.Lock()
	assert.Len(t, fake.notes, 1)
	assert.NotNil(t, fake.notes[m2.ExternalID])
	fake.mu.Unlock()
}
