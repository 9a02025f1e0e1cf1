package web

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"doc_syncer/internal/domain"
)

var publishedDate = regexp.MustCompile(`Published Date:\s*([0-9]{1,2}/[0-9]{1,2}/[0-9]{4}|[0-9]{4}-[0-9]{2}-[0-9]{2})`)

type LinksConfig struct {
	URL      string
	Suffix   string
	Category string
}

// LinkPage scrapes document links ending in a suffix from one HTML page.
type LinkPage struct {
	client *Client
	cfg    LinksConfig
	logger *slog.Logger
}

func NewLinkPage(client *Client, cfg LinksConfig, logger *slog.Logger) *LinkPage {
	cfg.Suffix = strings.ToLower(cfg.Suffix)
	if cfg.Suffix == "" {
		cfg.Suffix = ".pdf"
	}
	return &LinkPage{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// FetchCandidates accepts the "url" param to scrape a different page than configured.
func (p *LinkPage) FetchCandidates(ctx context.Context, params map[string]string) ([]domain.Candidate, error) {
	pageURL := p.cfg.URL
	if v := params["url"]; v != "" {
		pageURL = v
	}

	body, err := p.client.Get(ctx, pageURL, "text/html")
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	candidates := p.extract(doc, base)
	p.logger.Debug("extracted links", "url", pageURL, "count", len(candidates))
	return candidates, nil
}

func (p *LinkPage) Materialize(ctx context.Context, c domain.Candidate) ([]byte, error) {
	return p.client.Get(ctx, c.URL, "*/*")
}

func (p *LinkPage) extract(doc *goquery.Document, base *url.URL) []domain.Candidate {
	var candidates []domain.Candidate
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !strings.HasSuffix(strings.ToLower(abs.Path), p.cfg.Suffix) {
			return
		}
		link := abs.String()
		if seen[link] {
			return
		}
		seen[link] = true

		title := strings.TrimSpace(s.Text())
		if t, ok := s.Attr("title"); ok && title == "" {
			title = strings.TrimSpace(t)
		}

		candidates = append(candidates, domain.Candidate{
			Title:       title,
			URL:         link,
			PublishedAt: nearbyDate(s),
			Category:    p.cfg.Category,
		})
	})

	return candidates
}

// nearbyDate looks for a "Published Date:" label in the enclosing list item,
// table row or block.
func nearbyDate(s *goquery.Selection) string {
	if v, ok := s.Attr("data-published"); ok {
		return strings.TrimSpace(v)
	}
	container := s.Closest("li, tr, p, div")
	if container.Length() == 0 {
		return ""
	}
	m := publishedDate.FindStringSubmatch(container.Text())
	if m == nil {
		return ""
	}
	return m[1]
}
