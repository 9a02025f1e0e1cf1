package strategy

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	whitespace     = regexp.MustCompile(`\s+`)
	dedupSuffix    = regexp.MustCompile(`_\d+$`)
	unsafeChars    = regexp.MustCompile(`[<>:"/\\|?*,®™]`)
	nonWordChars   = regexp.MustCompile(`[^\w\s]`)
	separatorChars = regexp.MustCompile(`[_\s]+`)
)

var dateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"2006-01-02",
	time.RFC3339,
	"January 2, 2006",
	"Jan 2, 2006",
}

// NormalizeTitle trims link decorations and collapses whitespace.
func NormalizeTitle(raw string) string {
	t := strings.ReplaceAll(raw, "(opens in new window)", "")
	return strings.TrimSpace(whitespace.ReplaceAllString(t, " "))
}

// NormalizeDate renders a publish date as YYYY-MM-DD when it can be parsed.
// Unparseable dates keep their text with slashes replaced so they still compare stably.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Published Date:"))
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return strings.ReplaceAll(s, "/", "-")
}

// CanonicalURL lowercases scheme and host and drops fragments and trailing slashes.
func CanonicalURL(raw string) string {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// FilenameVariants returns the spellings under which a document name may have
// been stored historically: the raw stem, the stem without a numeric
// de-duplication suffix, a punctuation-free form and a space-joined form.
func FilenameVariants(name string) []string {
	stem := trimExt(strings.TrimSpace(name))
	if stem == "" {
		return nil
	}

	undup := dedupSuffix.ReplaceAllString(stem, "")
	underscored := strings.ReplaceAll(unsafeChars.ReplaceAllString(undup, "_"), " ", "_")
	stripped := strings.TrimSpace(whitespace.ReplaceAllString(nonWordChars.ReplaceAllString(undup, " "), " "))
	spaced := NormalizeFilename(name)

	out := make([]string, 0, 5)
	seen := make(map[string]bool)
	for _, v := range []string{spaced, stem, undup, underscored, stripped} {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// NormalizeFilename is the canonical space-joined form of a document name.
func NormalizeFilename(name string) string {
	stem := trimExt(strings.TrimSpace(name))
	stem = dedupSuffix.ReplaceAllString(stem, "")
	stem = unsafeChars.ReplaceAllString(stem, " ")
	stem = nonWordChars.ReplaceAllString(stem, " ")
	return strings.TrimSpace(separatorChars.ReplaceAllString(stem, " "))
}

// trimExt drops a short alphanumeric file extension containing at least one letter.
func trimExt(name string) string {
	ext := path.Ext(name)
	if len(ext) < 2 || len(ext) > 5 {
		return name
	}
	hasLetter := false
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
		default:
			return name
		}
	}
	if !hasLetter {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
