package joplin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TagCache memoizes remote tag name→id lookups for the lifetime of a
// session. The first lookup fetches the complete tag list exactly once;
// concurrent callers during that fetch share its result. The cache is
// never invalidated: a tag created remotely by another client after the
// fetch will not be found here and gets recreated. Titles are matched
// case-insensitively.
type TagCache struct {
	mu    sync.Mutex
	tags  map[string]string // lowercase title → id, nil until fetched
	group singleflight.Group
}

// NewTagCache creates an empty cache.
func NewTagCache() *TagCache {
	return &TagCache{}
}

// GetOrCreate resolves a tag title to its remote id, fetching the tag
// list on first use and creating the tag remotely on a miss. Creation
// is coalesced per title so racing callers cannot create duplicates.
func (tc *TagCache) GetOrCreate(ctx context.Context, client *Client, title string) (string, error) {
	if err := tc.ensureLoaded(ctx, client); err != nil {
		return "", err
	}

	key := strings.ToLower(title)

	tc.mu.Lock()
	id, ok := tc.tags[key]
	tc.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := tc.group.Do("create:"+key, func() (any, error) {
		// another caller may have created it while we queued
		tc.mu.Lock()
		id, ok := tc.tags[key]
		tc.mu.Unlock()
		if ok {
			return id, nil
		}

		id, err := client.CreateTag(ctx, title)
		if err != nil {
			return nil, err
		}

		tc.mu.Lock()
		tc.tags[key] = id
		tc.mu.Unlock()

		return id, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Apply resolves and attaches every non-empty title to the remote note.
// Application is additive; tags already on the note stay there.
func (tc *TagCache) Apply(ctx context.Context, client *Client, titles []string, noteID string) error {
	for _, raw := range titles {
		title := strings.TrimSpace(raw)
		if title == "" {
			continue
		}

		tagID, err := tc.GetOrCreate(ctx, client, title)
		if err != nil {
			return fmt.Errorf("resolve tag %q: %w", title, err)
		}

		if err := client.AttachTag(ctx, tagID, noteID); err != nil {
			return err
		}
	}

	return nil
}

// ensureLoaded populates the cache from the remote tag list once,
// single-flighting concurrent first callers.
func (tc *TagCache) ensureLoaded(ctx context.Context, client *Client) error {
	tc.mu.Lock()
	loaded := tc.tags != nil
	tc.mu.Unlock()
	if loaded {
		return nil
	}

	_, err, _ := tc.group.Do("fetch", func() (any, error) {
		tc.mu.Lock()
		loaded := tc.tags != nil
		tc.mu.Unlock()
		if loaded {
			return nil, nil
		}

		remote, err := client.ListTags(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch all tags: %w", err)
		}

		tags := make(map[string]string, len(remote))
		for _, t := range remote {
			tags[strings.ToLower(t.Title)] = t.ID
		}

		tc.mu.Lock()
		tc.tags = tags
		tc.mu.Unlock()

		return nil, nil
	})

	return err
}
