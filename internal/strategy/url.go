package strategy

import "doc_syncer/internal/domain"

// URLStrategy has no versioning signal: an artifact is fetched once per URL
// and again only if its local copy disappears.
type URLStrategy struct{}

func (URLStrategy) Name() string { return URLKeyed }

func (URLStrategy) IdentityKey(c domain.Candidate) string {
	return CanonicalURL(c.URL)
}

func (URLStrategy) ChangeToken(c domain.Candidate) string {
	return CanonicalURL(c.URL)
}

func (URLStrategy) IsStale(oldToken, newToken string) bool {
	return oldToken != newToken
}
