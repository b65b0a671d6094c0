package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/notedrop/notedrop/internal/joplin"
	"github.com/notedrop/notedrop/internal/storage"
)

// joplinConfigKey is the settings key the connection configuration is
// persisted under, JSON-encoded as {baseURL, token}.
const joplinConfigKey = "joplin.config"

// systemTag is applied to every exported note in addition to its own
// tags, so exports are findable on the Joplin side.
const systemTag = "notedrop"

// JoplinConfigStore persists the Joplin connection configuration in the
// local settings table.
type JoplinConfigStore struct {
	db *storage.DB
}

func NewJoplinConfigStore(db *storage.DB) *JoplinConfigStore {
	return &JoplinConfigStore{db: db}
}

// Load returns the stored configuration, or nil when none is saved.
func (s *JoplinConfigStore) Load(ctx context.Context) (*joplin.Config, error) {
	var cfg joplin.Config
	ok, err := s.db.GetSetting(ctx, joplinConfigKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *JoplinConfigStore) Save(ctx context.Context, cfg joplin.Config) error {
	return s.db.PutSetting(ctx, joplinConfigKey, cfg)
}

func (s *JoplinConfigStore) Clear(ctx context.Context) error {
	return s.db.DeleteSetting(ctx, joplinConfigKey)
}

// Joplin exports notes to a local Joplin instance through the Web
// Clipper API. The tag cache lives for the exporter's lifetime, so the
// remote tag list is fetched at most once per session.
type Joplin struct {
	configs *JoplinConfigStore
	tags    *joplin.TagCache

	// the API client is reused across exports so concurrent calls
	// share its notebook resolution; rebuilt when the persisted
	// configuration changes
	mu     sync.Mutex
	api    *joplin.Client
	apiCfg joplin.Config
}

// NewJoplin creates the Joplin exporter over the given storage.
func NewJoplin(db *storage.DB) *Joplin {
	return &Joplin{
		configs: NewJoplinConfigStore(db),
		tags:    joplin.NewTagCache(),
	}
}

func (j *Joplin) Name() string { return "Joplin" }

func (j *Joplin) Help() string {
	return `Enable Joplin Web Clipper in
Tools → Options → Web Clipper
Copy the authorization token.
Joplin must be running during export.`
}

// ConfigStore exposes the persisted connection configuration for the
// configure/clear flows.
func (j *Joplin) ConfigStore() *JoplinConfigStore { return j.configs }

// client returns the API client for the persisted configuration,
// short-circuiting with ErrMissingConfig before any remote call.
func (j *Joplin) client(ctx context.Context) (*joplin.Client, error) {
	cfg, err := j.configs.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrMissingConfig
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.api == nil || j.apiCfg != *cfg {
		j.api = joplin.NewClient(*cfg)
		j.apiCfg = *cfg
	}
	return j.api, nil
}

// Insert creates a remote note titled by the annotation with the full
// markdown rendering as body, then applies the system tag plus the
// note's own tags.
func (j *Joplin) Insert(ctx context.Context, note *storage.Note) (string, error) {
	api, err := j.client(ctx)
	if err != nil {
		return "", err
	}

	externalID, err := api.CreateNote(ctx, note.Note, note.Markdown())
	if err != nil {
		return "", err
	}

	if err := j.applyTags(ctx, api, note, externalID); err != nil {
		return "", err
	}

	return externalID, nil
}

// Update rewrites the mapped remote note and reapplies tags. A vanished
// record surfaces as ErrRemoteNotFound for the engine to repair.
func (j *Joplin) Update(ctx context.Context, note *storage.Note, mapping *storage.Mapping) error {
	api, err := j.client(ctx)
	if err != nil {
		return err
	}

	err = api.UpdateNote(ctx, mapping.ExternalID, note.Note, note.Markdown())
	if err != nil {
		if errors.Is(err, joplin.ErrNotFound) {
			return fmt.Errorf("%w: note %s", ErrRemoteNotFound, mapping.ExternalID)
		}
		return err
	}

	return j.applyTags(ctx, api, note, mapping.ExternalID)
}

// Ping checks that the configured instance is reachable.
func (j *Joplin) Ping(ctx context.Context) error {
	api, err := j.client(ctx)
	if err != nil {
		return err
	}
	return api.Ping(ctx)
}

// applyTags is additive only: tags present remotely but no longer on
// the local note are left in place.
func (j *Joplin) applyTags(ctx context.Context, api *joplin.Client, note *storage.Note, externalID string) error {
	titles := append([]string{systemTag}, note.TagList()...)
	return j.tags.Apply(ctx, api, titles, externalID)
}
