package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrupt marks an entry whose stored form cannot be deserialized.
// The store deletes such entries on read so they are not retried
// forever; plain I/O errors stay ordinary misses.
var ErrCorrupt = errors.New("cache: corrupt entry")

// Provider is the storage backend for cache entries.
// It stores opaque payload bytes together with the entry metadata and
// keeps the tag associations used for bulk invalidation.
// The backend is chosen once at startup; callers are backend-agnostic.
//
// Implementations must be safe for concurrent callers, including
// callers from independent processes sharing the same backend.
type Provider interface {
	// Get returns the entry for the given key, if it exists.
	// Expiry and version checks are the store's responsibility, so an
	// expired entry is still returned here.
	Get(key string) (Entry, bool, error)
	// Put stores the entry and replaces the key's tag set in the same
	// logical operation. The write is atomic: a concurrent reader sees
	// either the old entry or the new one, never a mix.
	Put(e Entry, tags []string) error
	// Delete removes the entry and its tag associations.
	// Deleting a missing key is not an error and reports zero.
	Delete(key string) (int, error)
	// DeleteAll removes every entry and tag association.
	DeleteAll() (int, error)
	// Keys calls the given callback for each stored key.
	// It calls the callback one key at a time so that very large key
	// sets are processable without loading everything at once.
	Keys(cb func(key string))
	// Entries returns metadata for all entries. Payload bytes are not
	// included.
	Entries() ([]Entry, error)
	// Touch updates access bookkeeping for the key. Best-effort: lost
	// updates under concurrency are acceptable.
	Touch(key string, at time.Time) error
	// SetTags replaces the key's tag associations.
	SetTags(key string, tags []string) error
	// TagsOf returns the tags currently associated with the key.
	TagsOf(key string) ([]string, error)
	// KeysByTag returns all keys associated with the tag.
	KeysByTag(tag string) ([]string, error)
	// DeleteTag removes all associations for the tag.
	DeleteTag(tag string) (int, error)
	// SweepOrphans removes associations whose key no longer has a live
	// entry. Maintenance only, never required for correctness.
	SweepOrphans() (int, error)
	Close() error
}

// OpenProvider opens the backend selected by name. Path is the
// database filename for sqlite and the storage directory for file.
func OpenProvider(backend, path string) (Provider, error) {
	switch backend {
	case "sqlite":
		return NewSQLiteProvider(path)
	case "file":
		return NewFileProvider(path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// Entry is the unit stored by a provider.
type Entry struct {
	Key  string
	Type string
	// RelatedID is a secondary lookup aid, e.g. the owning album's
	// numeric id. Zero means not set; absence never breaks anything.
	RelatedID int64
	// Version is the format version of the serialized payload.
	// A mismatch on read invalidates the entry.
	Version    int
	Payload    []byte
	Compressed bool
	// Digest is the hex SHA-256 of the uncompressed serialized payload,
	// computed at write time.
	Digest string
	// SizeBytes is the uncompressed payload size.
	SizeBytes      int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Expired reports whether the entry has passed its expiry at the given
// time.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// StoredBytes returns the on-disk payload size.
func (e Entry) StoredBytes() int64 {
	return int64(len(e.Payload))
}

// typeOf extracts the coarse type from a key (everything up to the
// first colon).
func typeOf(key string) string {
	t, _, _ := strings.Cut(key, ":")
	return t
}
