package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"doc_syncer/internal/domain"
)

type ListingConfig struct {
	URL      string
	PageSize int
	MaxPages int
	Category string
}

// Listing reads candidates from a paginated JSON API.
type Listing struct {
	client *Client
	cfg    ListingConfig
	logger *slog.Logger
}

func NewListing(client *Client, cfg ListingConfig, logger *slog.Logger) *Listing {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	return &Listing{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// FetchCandidates walks the listing pages. Job params are forwarded as query arguments.
func (l *Listing) FetchCandidates(ctx context.Context, params map[string]string) ([]domain.Candidate, error) {
	base, err := url.Parse(l.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	var items []ListingItem
	for page := 0; page < l.cfg.MaxPages; page++ {
		resp, err := l.fetchPage(ctx, base, page, params)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		items = append(items, resp.Content...)

		l.logger.Debug("fetched page",
			"page", page,
			"items", len(resp.Content),
			"total", len(items),
		)

		if page >= resp.PageInfo.NumPages-1 {
			break
		}
	}

	return l.transform(base, items), nil
}

func (l *Listing) Materialize(ctx context.Context, c domain.Candidate) ([]byte, error) {
	return l.client.Get(ctx, c.URL, "*/*")
}

func (l *Listing) fetchPage(ctx context.Context, base *url.URL, page int, params map[string]string) (*ListingResponse, error) {
	u := *base
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if l.cfg.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(l.cfg.PageSize))
	}
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := l.client.Get(ctx, u.String(), "application/json")
	if err != nil {
		return nil, err
	}

	var resp ListingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (l *Listing) transform(base *url.URL, items []ListingItem) []domain.Candidate {
	candidates := make([]domain.Candidate, 0, len(items))

	for _, item := range items {
		ref, err := url.Parse(item.URL)
		if err != nil || item.URL == "" {
			l.logger.Warn("skipping item with invalid url",
				"title", item.Title,
				"url", item.URL,
			)
			continue
		}

		category := item.Category
		if category == "" {
			category = l.cfg.Category
		}

		candidates = append(candidates, domain.Candidate{
			Title:       item.Title,
			URL:         base.ResolveReference(ref).String(),
			Filename:    item.Filename,
			PublishedAt: item.Date,
			Category:    category,
		})
	}

	return candidates
}
