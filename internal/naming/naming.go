// Package naming picks on-disk names for materialized artifacts without
// ever overwriting a file that belongs to another identity key.
package naming

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"doc_syncer/internal/domain"
)

const (
	DefaultMaxAttempts = 5000
	maxStemLength      = 190
)

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*,®™\x00-\x1f]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Allocator hands out collision-free relative paths below one directory.
// It is not safe for concurrent use; one allocator serves one sync.
type Allocator struct {
	root        string
	owners      map[string]string // relative path -> identity key
	maxAttempts int
}

func NewAllocator(root string, owners map[string]string, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	o := make(map[string]string, len(owners))
	for p, k := range owners {
		o[filepath.ToSlash(p)] = k
	}
	return &Allocator{root: root, owners: o, maxAttempts: maxAttempts}
}

// Allocate returns a relative path for the artifact keyed by key. A path
// already owned by key is reused; a path that exists on disk or is owned by
// another key gets a numeric suffix before the extension.
func (a *Allocator) Allocate(dir, filename, key string) (string, error) {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for i := 0; i < a.maxAttempts; i++ {
		name := filename
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		rel := path.Join(filepath.ToSlash(dir), name)

		owner, known := a.owners[rel]
		if known {
			if owner == key {
				return rel, nil
			}
			continue
		}

		exists, err := a.exists(rel)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}

		a.owners[rel] = key
		return rel, nil
	}

	return "", fmt.Errorf("%w: %s after %d attempts", domain.ErrNamingExhausted, filename, a.maxAttempts)
}

// Release forgets a reservation made by Allocate, e.g. after a failed write.
func (a *Allocator) Release(rel, key string) {
	if a.owners[rel] == key {
		delete(a.owners, rel)
	}
}

func (a *Allocator) exists(rel string) (bool, error) {
	_, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(rel)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", rel, err)
}

// FileName derives a filesystem-safe file name for a candidate.
func FileName(c domain.Candidate, defaultExt string) string {
	var base string
	switch {
	case c.Filename != "":
		base = c.Filename
	case c.Title != "":
		base = c.Title
	default:
		base = urlBase(c.URL)
	}

	ext := path.Ext(base)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, " _") {
		ext = path.Ext(urlBase(c.URL))
		if ext == "" || len(ext) > 5 {
			ext = defaultExt
		}
	} else {
		base = strings.TrimSuffix(base, ext)
	}

	stem := Sanitize(base)
	if stem == "" {
		stem = "document"
	}
	if len(stem) > maxStemLength {
		n := maxStemLength
		for n > 0 && !utf8.RuneStart(stem[n]) {
			n--
		}
		stem = strings.TrimRight(stem[:n], "_")
	}
	return stem + strings.ToLower(ext)
}

// Sanitize replaces characters that are unsafe in file names and joins words with underscores.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "(opens in new window)", "")
	s = unsafeChars.ReplaceAllString(s, "_")
	s = spaces.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, "._")
}

func urlBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	b := path.Base(u.Path)
	if b == "." || b == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(b); err == nil {
		return unescaped
	}
	return b
}
