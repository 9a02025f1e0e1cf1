// Package strategy decides, per source, what identifies an artifact and
// what signals that it changed.
package strategy

import (
	"fmt"
	"sort"

	"doc_syncer/internal/domain"
)

// Strategy derives the fingerprint of a candidate.
type Strategy interface {
	Name() string
	IdentityKey(c domain.Candidate) string
	ChangeToken(c domain.Candidate) string
	IsStale(oldToken, newToken string) bool
}

// KeyVariants is implemented by strategies whose identity signal is noisy
// enough that several spellings of the same key must be tried on lookup.
// The canonical IdentityKey is always tried first.
type KeyVariants interface {
	Variants(c domain.Candidate) []string
}

// LookupKeys returns the keys to try against the fingerprint store, canonical first.
func LookupKeys(s Strategy, c domain.Candidate) []string {
	key := s.IdentityKey(c)
	keys := []string{key}
	v, ok := s.(KeyVariants)
	if !ok {
		return keys
	}
	for _, alt := range v.Variants(c) {
		if alt != "" && alt != key {
			keys = append(keys, alt)
		}
	}
	return keys
}

const (
	TitleDate          = "title_date"
	URLKeyed           = "url"
	NormalizedFilename = "filename"
)

var builtin = map[string]func() Strategy{
	TitleDate:          func() Strategy { return TitleDateStrategy{} },
	URLKeyed:           func() Strategy { return URLStrategy{} },
	NormalizedFilename: func() Strategy { return FilenameStrategy{} },
}

// ByName resolves a configured strategy selector.
func ByName(name string) (Strategy, error) {
	f, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(), nil
}

func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
