// Package search exposes the full-text query surface over the note
// store: a thin query engine around the FTS5 grammar and a debouncer
// for live-typing searches.
package search

import (
	"context"
	"strings"

	"github.com/notedrop/notedrop/internal/storage"
)

// Help documents the supported query operators, intended to be shown
// verbatim to the user.
const Help = `Search syntax:

• Words are combined using AND by default
  golem praha

• OR operator
  golem OR praha

• Exclude a word
  golem NOT praha

• Exact phrase
  "golem of prague"

• Prefix search
  gol* pra*

Tips:
– Search is case-insensitive
– Results are ranked by relevance`

// Engine translates user search strings into full-text queries against
// the store's index. It adds no normalization beyond trimming the
// surrounding whitespace; the raw string goes straight to the FTS5
// parser.
type Engine struct {
	store *storage.DB
}

// NewEngine creates a query engine backed by the given store.
func NewEngine(store *storage.DB) *Engine {
	return &Engine{store: store}
}

// Search runs the query and returns up to 100 ranked notes, newest
// first when the query is empty. Malformed syntax surfaces as
// storage.ErrBadQuery without retry.
func (e *Engine) Search(ctx context.Context, query string) ([]storage.Note, error) {
	return e.store.Search(ctx, strings.TrimSpace(query))
}
