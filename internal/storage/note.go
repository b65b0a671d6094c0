package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Note is a captured note. ID is assigned by the store on insert and
// never changes; CreatedAt is set once, UpdatedAt tracks the row's last
// write. Tags is always stored in normalized form (see NormalizeTags).
type Note struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Link      string    `json:"link"`
	Tags      string    `json:"tags"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeTags lower-cases the tag string, splits it on whitespace and
// re-joins the tokens sorted by single spaces. Duplicates are kept, only
// ordered, so normalization is idempotent.
func NormalizeTags(tags string) string {
	fields := strings.Fields(strings.ToLower(tags))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

// TagList returns the note's tags as individual tokens.
func (n *Note) TagList() []string {
	return strings.Fields(n.Tags)
}

// Markdown renders the note as a standalone markdown document, used as
// the body of exported records.
func (n *Note) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", n.Text)

	if n.Tags != "" {
		fmt.Fprintf(&b, "**Tags:** %s\n\n", n.Tags)
	}
	if n.Link != "" {
		fmt.Fprintf(&b, "**Link:** [%s](%s)\n\n", n.Link, n.Link)
	}
	if n.Note != "" {
		fmt.Fprintf(&b, "**Note:** %s\n\n", n.Note)
	}

	fmt.Fprintf(&b, "_Created at: %s_\n", n.CreatedAt.Format(time.DateTime))
	fmt.Fprintf(&b, "_Updated at: %s_\n", n.UpdatedAt.Format(time.DateTime))

	return b.String()
}
