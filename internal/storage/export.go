package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Mapping links a local note to its record in an external system. At
// most one row exists per (note, system) pair and external_id is never
// persisted empty.
type Mapping struct {
	ID         int64
	NoteID     int64
	System     string
	ExternalID string
	ExportedAt time.Time
}

// ExportMapping retrieves the mapping for a (note, system) pair, or nil
// if the note has never been exported there.
func (d *DB) ExportMapping(ctx context.Context, noteID int64, system string) (*Mapping, error) {
	m := &Mapping{}
	err := d.db.QueryRowContext(ctx, `
	SELECT id, message_id, system, external_id, exported_at
	FROM external_export
	WHERE message_id = ? AND system = ?`, noteID, system,
	).Scan(&m.ID, &m.NoteID, &m.System, &m.ExternalID, &m.ExportedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export mapping %d/%s: %w", noteID, system, err)
	}

	return m, nil
}

// UpsertExportMapping replaces any existing mapping for the pair and
// stamps it with the current time.
func (d *DB) UpsertExportMapping(ctx context.Context, noteID int64, system, externalID string) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO external_export (message_id, system, external_id, exported_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(message_id, system) DO UPDATE SET
		external_id = excluded.external_id,
		exported_at = excluded.exported_at`,
		noteID, system, externalID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert export mapping %d/%s: %w", noteID, system, err)
	}

	return nil
}

// DeleteExportMapping removes the mapping for a (note, system) pair.
func (d *DB) DeleteExportMapping(ctx context.Context, noteID int64, system string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM external_export WHERE message_id = ? AND system = ?",
		noteID, system,
	)
	if err != nil {
		return fmt.Errorf("delete export mapping %d/%s: %w", noteID, system, err)
	}

	return nil
}

// ResetExportMappings clears every mapping for a system. The next export
// trigger recreates each note remotely from scratch; exposed as a manual
// recovery control.
func (d *DB) ResetExportMappings(ctx context.Context, system string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM external_export WHERE system = ?", system,
	)
	if err != nil {
		return fmt.Errorf("reset export mappings for %s: %w", system, err)
	}

	return nil
}
