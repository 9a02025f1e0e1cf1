// Package registry resolves configured sources into runnable fetcher and
// strategy pairs once, at configuration load.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"doc_syncer/internal/config"
	"doc_syncer/internal/domain"
	"doc_syncer/internal/service"
	"doc_syncer/internal/source/web"
	"doc_syncer/internal/strategy"
)

type Entry struct {
	Source   service.Source
	Enabled  bool
	Schedule config.ScheduleConfig
	// Params are default fetch parameters; job parameters override them.
	Params map[string]string
}

type Registry struct {
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Build resolves every configured source. Unknown strategies or fetcher
// types are configuration errors.
func Build(cfg *config.Config, client *web.Client, logger *slog.Logger) (*Registry, error) {
	r := New()
	for _, id := range cfg.SourceIDs() {
		sc := cfg.Sources[id]

		strat, err := strategy.ByName(sc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %w", domain.ErrConfiguration, id, err)
		}

		fetcher, err := newFetcher(sc.Fetcher, client, logger.With("source", id))
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %w", domain.ErrConfiguration, id, err)
		}

		r.Register(id, Entry{
			Source: service.Source{
				ID:        id,
				OutputDir: sc.OutputDir,
				Fetcher:   fetcher,
				Strategy:  strat,
			},
			Enabled:  sc.IsEnabled(),
			Schedule: sc.Schedule,
			Params:   sc.Params,
		})
	}
	return r, nil
}

func newFetcher(fc config.FetcherConfig, client *web.Client, logger *slog.Logger) (service.Fetcher, error) {
	switch fc.Type {
	case config.FetcherJSONListing:
		return web.NewListing(client, web.ListingConfig{
			URL:      fc.URL,
			PageSize: fc.PageSize,
			MaxPages: fc.MaxPages,
			Category: fc.Category,
		}, logger), nil
	case config.FetcherLinkPage:
		return web.NewLinkPage(client, web.LinksConfig{
			URL:      fc.URL,
			Suffix:   fc.LinkSuffix,
			Category: fc.Category,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown fetcher type %q", fc.Type)
	}
}

func (r *Registry) Register(id string, e Entry) {
	e.Source.ID = id
	r.entries[id] = e
}

// Lookup returns the entry for id, rejecting unknown and disabled sources.
func (r *Registry) Lookup(id string) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %w: %q", domain.ErrConfiguration, domain.ErrSourceNotFound, id)
	}
	if !e.Enabled {
		return Entry{}, fmt.Errorf("%w: %w: %q", domain.ErrConfiguration, domain.ErrSourceDisabled, id)
	}
	return e, nil
}

// Get returns the entry regardless of its enabled flag.
func (r *Registry) Get(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
