package strategy

import "doc_syncer/internal/domain"

// TitleDateStrategy keys artifacts by their title and treats a changed
// publish date as a new revision.
type TitleDateStrategy struct{}

func (TitleDateStrategy) Name() string { return TitleDate }

func (TitleDateStrategy) IdentityKey(c domain.Candidate) string {
	return NormalizeTitle(c.Title)
}

func (TitleDateStrategy) ChangeToken(c domain.Candidate) string {
	return NormalizeDate(c.PublishedAt)
}

func (TitleDateStrategy) IsStale(oldToken, newToken string) bool {
	return oldToken != newToken
}
