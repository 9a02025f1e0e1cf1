package strategy

import (
	"path"

	"doc_syncer/internal/domain"
)

// FilenameStrategy identifies artifacts by a normalized document name.
// Presence of any historical spelling means the artifact is already held.
type FilenameStrategy struct{}

func (FilenameStrategy) Name() string { return NormalizedFilename }

func (FilenameStrategy) IdentityKey(c domain.Candidate) string {
	return NormalizeFilename(documentName(c))
}

func (FilenameStrategy) ChangeToken(domain.Candidate) string { return "" }

func (FilenameStrategy) IsStale(string, string) bool { return false }

func (FilenameStrategy) Variants(c domain.Candidate) []string {
	return FilenameVariants(documentName(c))
}

func documentName(c domain.Candidate) string {
	switch {
	case c.Title != "":
		return NormalizeTitle(c.Title)
	case c.Filename != "":
		return c.Filename
	default:
		return path.Base(c.URL)
	}
}
