package domain

import "time"

// Candidate is one item reported by a fetcher during a single fetch cycle.
type Candidate struct {
	Title       string
	URL         string
	Filename    string
	PublishedAt string // raw publish date as reported by the source
	Category    string // optional subdirectory below the source output dir
	Content     []byte // inline content; nil means the fetcher must materialize it
}

// HasContent reports whether the candidate already carries its bytes.
func (c Candidate) HasContent() bool {
	return c.Content != nil
}

type FingerprintRecord struct {
	ChangeToken string    `json:"change_token" db:"change_token"`
	Path        string    `json:"path" db:"path"` // relative to the source output dir
	IndexedAt   time.Time `json:"indexed_at" db:"indexed_at"`
}

// Fingerprints is the record set of one source keyed by identity key.
type Fingerprints struct {
	SourceID  string                       `json:"source_id"`
	UpdatedAt time.Time                    `json:"updated_at"`
	Records   map[string]FingerprintRecord `json:"records"`
}

func NewFingerprints(sourceID string) *Fingerprints {
	return &Fingerprints{
		SourceID: sourceID,
		Records:  make(map[string]FingerprintRecord),
	}
}

// Lookup returns the first record matching any of the keys, in order.
func (f *Fingerprints) Lookup(keys ...string) (string, FingerprintRecord, bool) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if rec, ok := f.Records[k]; ok {
			return k, rec, true
		}
	}
	return "", FingerprintRecord{}, false
}

// Owners maps every recorded path to the identity key that owns it.
func (f *Fingerprints) Owners() map[string]string {
	owners := make(map[string]string, len(f.Records))
	for key, rec := range f.Records {
		if rec.Path != "" {
			owners[rec.Path] = key
		}
	}
	return owners
}

type Classification string

const (
	ClassNew            Classification = "new"
	ClassUpdated        Classification = "updated"
	ClassMissingLocally Classification = "missing_locally"
	ClassUnchanged      Classification = "unchanged"
)

// NeedsMaterialize reports whether the class requires fetching content.
func (c Classification) NeedsMaterialize() bool {
	return c != ClassUnchanged
}

// ArtifactEvent announces a freshly materialized artifact to downstream consumers.
type ArtifactEvent struct {
	Action      Classification `json:"action"`
	SourceID    string         `json:"source_id"`
	JobID       string         `json:"job_id"`
	IdentityKey string         `json:"identity_key"`
	ChangeToken string         `json:"change_token"`
	Path        string         `json:"path"`
	Timestamp   time.Time      `json:"timestamp"`
}
