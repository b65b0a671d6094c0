package joplin

// Folder is a Joplin notebook.
type Folder struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id"`
}

// Note is the relevant slice of a Joplin note record.
type Note struct {
	ID string `json:"id"`
}

// Tag is a Joplin tag.
type Tag struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Page is one page of a paginated list response.
type Page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}
