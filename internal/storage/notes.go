package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// searchLimit caps every search, including the empty-query listing.
const searchLimit = 100

var (
	// ErrInvalidID is reported when an update names a note that cannot
	// exist. Nothing is written in that case.
	ErrInvalidID = errors.New("invalid note id")

	// ErrBadQuery is reported when the full-text query cannot be parsed
	// or bound. The caller decides whether to surface it or treat the
	// input as no results.
	ErrBadQuery = errors.New("malformed search query")
)

// Insert persists a new note together with its full-text index entry in
// a single transaction and returns the assigned id. Tags are normalized
// before the write.
func (d *DB) Insert(ctx context.Context, text, link, tags, note string) (int64, error) {
	normalized := NormalizeTags(tags)

	var id int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO notes (text, link, tags, note) VALUES (?, ?, ?, ?)",
			text, link, normalized, note,
		)
		if err != nil {
			return fmt.Errorf("insert note: %w", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("note id: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO notes_fts (rowid, text, tags, note) VALUES (?, ?, ?, ?)",
			id, text, normalized, note,
		)
		if err != nil {
			return fmt.Errorf("index note: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// Update replaces the mutable fields of an existing note and regenerates
// its index entry (delete of the old values, insert of the new) in the
// same transaction. A non-positive id is rejected with ErrInvalidID
// before anything is touched. Updating an id with no row is a no-op.
func (d *DB) Update(ctx context.Context, n *Note) error {
	if n.ID <= 0 {
		return fmt.Errorf("update note %d: %w", n.ID, ErrInvalidID)
	}

	normalized := NormalizeTags(n.Tags)

	return d.withTx(ctx, func(tx *sql.Tx) error {
		var oldText, oldTags, oldNote string
		err := tx.QueryRowContext(ctx,
			"SELECT text, tags, note FROM notes WHERE id = ?", n.ID,
		).Scan(&oldText, &oldTags, &oldNote)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load note %d: %w", n.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE notes SET text = ?, link = ?, tags = ?, note = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			n.Text, n.Link, normalized, n.Note, n.ID,
		)
		if err != nil {
			return fmt.Errorf("update note %d: %w", n.ID, err)
		}

		// External-content FTS5 needs the old column values to drop the
		// stale entry before the new one goes in
		_, err = tx.ExecContext(ctx,
			"INSERT INTO notes_fts (notes_fts, rowid, text, tags, note) VALUES ('delete', ?, ?, ?, ?)",
			n.ID, oldText, oldTags, oldNote,
		)
		if err != nil {
			return fmt.Errorf("deindex note %d: %w", n.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO notes_fts (rowid, text, tags, note) VALUES (?, ?, ?, ?)",
			n.ID, n.Text, normalized, n.Note,
		)
		if err != nil {
			return fmt.Errorf("reindex note %d: %w", n.ID, err)
		}

		return nil
	})
}

// GetByID retrieves a note by id, or nil if it does not exist. Export
// paths read through here so they always act on the persisted state.
func (d *DB) GetByID(ctx context.Context, id int64) (*Note, error) {
	n := &Note{}
	err := d.db.QueryRowContext(ctx,
		"SELECT id, text, link, tags, note, created_at, updated_at FROM notes WHERE id = ?", id,
	).Scan(&n.ID, &n.Text, &n.Link, &n.Tags, &n.Note, &n.CreatedAt, &n.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note %d: %w", id, err)
	}

	return n, nil
}

// Search returns up to 100 notes. An empty query lists the most recently
// created notes, newest first. Anything else is handed to the FTS5 query
// parser (implicit AND, OR, NOT, "phrase", prefix*) and ordered by rank.
func (d *DB) Search(ctx context.Context, query string) ([]Note, error) {
	if query == "" {
		rows, err := d.db.QueryContext(ctx, `
		SELECT id, text, link, tags, note, created_at, updated_at
		FROM notes
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, searchLimit)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		return scanNotes(rows)
	}

	rows, err := d.db.QueryContext(ctx, `
	SELECT m.id, m.text, m.link, m.tags, m.note, m.created_at, m.updated_at
	FROM notes m
	JOIN notes_fts fts ON fts.rowid = m.id
	WHERE notes_fts MATCH ?
	ORDER BY rank
	LIMIT ?`, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}

	notes, err := scanNotes(rows)
	if err != nil {
		// FTS5 parses the match expression lazily, so syntax and bind
		// failures can surface while stepping through the rows
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}

	return notes, nil
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		err := rows.Scan(&n.ID, &n.Text, &n.Link, &n.Tags, &n.Note, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}

	return notes, rows.Err()
}

// Count returns the total number of notes
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count)
	return count, err
}
