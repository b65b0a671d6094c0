// Package export keeps each local note mapped to at most one live
// record in an external system. The reconciliation logic is shared; a
// system plugs in through the Exporter interface with its own insert
// and update hooks.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notedrop/notedrop/internal/storage"
)

var (
	// ErrMissingConfig means the export target has no usable connection
	// configuration. Nothing remote or local is touched; the caller is
	// expected to obtain configuration and retry the same export.
	ErrMissingConfig = errors.New("export target is not configured")

	// ErrRemoteNotFound is returned by an Exporter's Update when the
	// external record was deleted out-of-band. It is the only error
	// that triggers recreation.
	ErrRemoteNotFound = errors.New("external record not found")
)

// Exporter is the system-specific half of an export: how to create and
// how to update one remote record for a note.
type Exporter interface {
	// Name identifies the external system; it keys the mapping table.
	Name() string

	// Help is user-facing setup documentation for the system.
	Help() string

	// Insert creates a brand-new remote record for the note and returns
	// its external id.
	Insert(ctx context.Context, note *storage.Note) (string, error)

	// Update rewrites the remote record behind an existing mapping. It
	// returns an error matching ErrRemoteNotFound when that record no
	// longer exists.
	Update(ctx context.Context, note *storage.Note, mapping *storage.Mapping) error
}

// Engine composes the mapping store with an Exporter to make exports
// idempotent: repeating an export of an unmodified note leaves exactly
// one remote record and one mapping row behind.
type Engine struct {
	store *storage.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine over the given mapping storage.
func NewEngine(store *storage.DB) *Engine {
	return &Engine{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Export guarantees the note is represented by exactly one live record
// in the exporter's system, creating or repairing it as needed. Safe to
// repeat: any remote failure other than a vanished record leaves the
// mapping untouched so a retry starts from the same state. Exports for
// the same (note, system) pair are serialized; different pairs run
// concurrently.
func (e *Engine) Export(ctx context.Context, note *storage.Note, exp Exporter) error {
	unlock := e.lock(note.ID, exp.Name())
	defer unlock()

	mapping, err := e.store.ExportMapping(ctx, note.ID, exp.Name())
	if err != nil {
		return err
	}

	if mapping == nil {
		externalID, err := exp.Insert(ctx, note)
		if err != nil {
			return err
		}
		if externalID == "" {
			return nil
		}
		return e.store.UpsertExportMapping(ctx, note.ID, exp.Name(), externalID)
	}

	err = exp.Update(ctx, note, mapping)
	switch {
	case err == nil:
		// still live; refresh the export timestamp
		return e.store.UpsertExportMapping(ctx, note.ID, exp.Name(), mapping.ExternalID)

	case errors.Is(err, ErrRemoteNotFound):
		// the remote record was deleted out-of-band: recreate it and
		// replace the stale mapping
		newID, err := exp.Insert(ctx, note)
		if err != nil {
			return err
		}
		if err := e.store.DeleteExportMapping(ctx, note.ID, exp.Name()); err != nil {
			return err
		}
		return e.store.UpsertExportMapping(ctx, note.ID, exp.Name(), newID)

	default:
		return err
	}
}

// lock serializes exports per (note, system) pair.
func (e *Engine) lock(noteID int64, system string) func() {
	key := fmt.Sprintf("%d/%s", noteID, system)

	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}
