// Package joplin is a stateless client for the Joplin Web Clipper API:
// JSON over HTTP on a locally running service, authenticated by a token
// passed as a query parameter on every request.
package joplin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultNotebookTitle is the well-known notebook exported notes are
// created under.
const DefaultNotebookTitle = "notedrop"

var (
	// ErrConnection means the service could not be reached at all.
	ErrConnection = errors.New("cannot connect to Joplin")

	// ErrUnauthorized means the service rejected the token.
	ErrUnauthorized = errors.New("invalid Joplin token")

	// ErrNotFound means the addressed record no longer exists remotely.
	ErrNotFound = errors.New("not found")

	// ErrInvalidResponse means the payload could not be parsed.
	ErrInvalidResponse = errors.New("invalid response from Joplin")
)

// APIError carries the body of any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("joplin api error (status %d): %s", e.Status, e.Message)
}

// Config holds the connection configuration for a Joplin instance,
// e.g. http://127.0.0.1:41184 plus the Web Clipper token. It is
// supplied by the caller; the client never persists it.
type Config struct {
	BaseURL string `json:"baseURL"`
	Token   string `json:"token"`
}

// Client is a Joplin Web Clipper API client
type Client struct {
	cfg        Config
	httpClient *http.Client

	// coalesces concurrent default-notebook resolution so racing
	// first-time exports cannot create duplicate notebooks
	notebook singleflight.Group
}

// NewClient creates a client for the given connection configuration.
// The service runs locally but may be down, so every call carries a
// bounded timeout.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// do performs a request against path with the token attached, decoding
// a JSON response into result when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, result any) error {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return fmt.Errorf("bad base url: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.cfg.Token)
	u.RawQuery = query.Encode()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return &APIError{Status: resp.StatusCode, Message: string(data)}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return nil
}

// Ping checks that the service is reachable and accepts requests.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, nil)
}

// GetOrCreateDefaultNotebook resolves the well-known notebook, creating
// it when absent. The result is deliberately not cached (a deleted
// notebook is recreated on the next export); concurrent callers share
// one resolution.
func (c *Client) GetOrCreateDefaultNotebook(ctx context.Context) (string, error) {
	v, err, _ := c.notebook.Do("default", func() (any, error) {
		var page Page[Folder]
		if err := c.do(ctx, http.MethodGet, "/folders", nil, nil, &page); err != nil {
			return nil, fmt.Errorf("fetch folders: %w", err)
		}

		for _, f := range page.Items {
			if f.Title == DefaultNotebookTitle {
				return f.ID, nil
			}
		}

		var folder Folder
		err := c.do(ctx, http.MethodPost, "/folders",
			nil, map[string]string{"title": DefaultNotebookTitle}, &folder)
		if err != nil {
			return nil, fmt.Errorf("create folder: %w", err)
		}

		return folder.ID, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// CreateNote creates a note under the default notebook and returns its id.
func (c *Client) CreateNote(ctx context.Context, title, body string) (string, error) {
	folderID, err := c.GetOrCreateDefaultNotebook(ctx)
	if err != nil {
		return "", err
	}

	var created Note
	err = c.do(ctx, http.MethodPost, "/notes", nil, map[string]string{
		"title":     title,
		"body":      body,
		"parent_id": folderID,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("create note: %w", err)
	}

	return created.ID, nil
}

// UpdateNote replaces the title and body of an existing note. It fails
// with ErrNotFound when the note no longer exists remotely.
func (c *Client) UpdateNote(ctx context.Context, id, title, body string) error {
	err := c.do(ctx, http.MethodPut, "/notes/"+id, nil, map[string]string{
		"title": title,
		"body":  body,
	}, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update note %s: %w", id, err)
	}

	return nil
}

// ListTags fetches every remote tag, following pagination.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var all []Tag

	for page := 1; ; page++ {
		query := url.Values{
			"page":  {strconv.Itoa(page)},
			"limit": {"100"},
		}

		var resp Page[Tag]
		if err := c.do(ctx, http.MethodGet, "/tags", query, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetch tags page %d: %w", page, err)
		}

		all = append(all, resp.Items...)
		if !resp.HasMore {
			break
		}
	}

	return all, nil
}

// CreateTag creates a tag and returns its id.
func (c *Client) CreateTag(ctx context.Context, title string) (string, error) {
	var tag Tag
	err := c.do(ctx, http.MethodPost, "/tags", nil, map[string]string{"title": title}, &tag)
	if err != nil {
		return "", fmt.Errorf("create tag %q: %w", title, err)
	}

	return tag.ID, nil
}

// AttachTag attaches an existing tag to a note.
func (c *Client) AttachTag(ctx context.Context, tagID, noteID string) error {
	err := c.do(ctx, http.MethodPost, "/tags/"+tagID+"/notes",
		nil, map[string]string{"id": noteID}, nil)
	if err != nil {
		return fmt.Errorf("attach tag %s to %s: %w", tagID, noteID, err)
	}

	return nil
}
