package cache

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// FormatVersion is the current format version of serialized payloads.
// Entries written under a different version are invalidated on read.
const FormatVersion = 2

// Config configures a Store.
type Config struct {
	Provider Provider
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Version overrides FormatVersion, used by format migration tests.
	Version int
	// Now overrides the clock, used by expiry tests.
	Now func() time.Time
}

// Store is the durable page cache. Every operation is best-effort from
// the caller's point of view: a backend outage degrades to always-miss
// and a failed write degrades to serve-without-cache. Errors are logged,
// never returned to page-serving callers.
type Store struct {
	provider Provider
	log      zerolog.Logger
	version  int
	now      func() time.Time
}

// New creates a Store on top of the given provider.
func New(cfg Config) *Store {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	version := cfg.Version
	if version == 0 {
		version = FormatVersion
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		provider: cfg.Provider,
		log:      logger.With().Str("component", "cache").Logger(),
		version:  version,
		now:      now,
	}
}

// Set serializes and stores the payload under the key with the given
// TTL, replacing the key's tag set. It reports whether the write
// succeeded; a failed write is logged and the caller serves uncached.
func (s *Store) Set(key string, payload any, ttl time.Duration, tags []string) bool {
	return s.SetRelated(key, payload, ttl, tags, 0)
}

// SetRelated is Set with an opportunistic related id (e.g. the owning
// album's numeric id) recorded for maintenance queries.
func (s *Store) SetRelated(key string, payload any, ttl time.Duration, tags []string, relatedID int64) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Could not serialize payload")
		return false
	}
	stored, compressed := compress(raw)
	now := s.now().UTC()
	entry := Entry{
		Key:        key,
		Type:       typeOf(key),
		RelatedID:  relatedID,
		Version:    s.version,
		Payload:    stored,
		Compressed: compressed,
		Digest:     fmt.Sprintf("%x", sha256.Sum256(raw)),
		SizeBytes:  int64(len(raw)),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.provider.Put(entry, tags); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Could not write cache entry")
		return false
	}
	s.log.Debug().Str("key", key).Time("expiry", entry.ExpiresAt).
		Bool("compressed", compressed).Int64("size", entry.SizeBytes).
		Msg("Cache write")
	return true
}

// Get returns the serialized payload stored under the key. Expired
// entries are treated as absent (and deleted) unless allowStale is
// set; version mismatches and corrupt entries are deleted and treated
// as absent.
func (s *Store) Get(key string, allowStale bool) ([]byte, bool) {
	entry, ok, err := s.provider.Get(key)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.log.Warn().Err(err).Str("key", key).Msg("Dropping corrupt entry")
			s.dropQuietly(key)
		} else {
			s.log.Warn().Err(err).Str("key", key).Msg("Could not read cache entry")
		}
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.Version != s.version {
		s.log.Debug().Str("key", key).Int("version", entry.Version).
			Msg("Dropping entry with stale format version")
		s.dropQuietly(key)
		return nil, false
	}
	if entry.Expired(s.now()) && !allowStale {
		s.dropQuietly(key)
		return nil, false
	}
	raw := entry.Payload
	if entry.Compressed {
		raw, err = decompress(entry.Payload)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Dropping undecompressable entry")
			s.dropQuietly(key)
			return nil, false
		}
	}
	// advisory bookkeeping, lost updates are fine
	if err := s.provider.Touch(key, s.now().UTC()); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("Could not update access bookkeeping")
	}
	return raw, true
}

// GetJSON decodes the stored payload into v.
func (s *Store) GetJSON(key string, v any, allowStale bool) bool {
	raw, ok := s.Get(key, allowStale)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable entry")
		s.dropQuietly(key)
		return false
	}
	return true
}

// Digest returns the stored content digest for the key without
// touching access bookkeeping or decompressing the payload. Expired
// and version-mismatched entries report absent.
func (s *Store) Digest(key string) (string, bool) {
	entry, ok, err := s.provider.Get(key)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.dropQuietly(key)
		}
		s.log.Warn().Err(err).Str("key", key).Msg("Could not read digest")
		return "", false
	}
	if !ok || entry.Version != s.version || entry.Expired(s.now()) {
		return "", false
	}
	return entry.Digest, true
}

// IsExpired reports whether the key exists but has passed its expiry.
func (s *Store) IsExpired(key string) bool {
	entry, ok, err := s.provider.Get(key)
	if err != nil || !ok {
		return false
	}
	return entry.Expired(s.now())
}

// Invalidate deletes the entry and its tag associations. Idempotent.
func (s *Store) Invalidate(key string) int {
	n, err := s.provider.Delete(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Could not invalidate entry")
		return 0
	}
	if n > 0 {
		s.log.Debug().Str("key", key).Msg("Invalidated cache entry")
	}
	return n
}

// InvalidateByTag invalidates every key associated with the tag, then
// removes the tag's associations.
func (s *Store) InvalidateByTag(tag string) int {
	keys, err := s.provider.KeysByTag(tag)
	if err != nil {
		s.log.Warn().Err(err).Str("tag", tag).Msg("Could not resolve tag")
		return 0
	}
	count := 0
	for _, key := range keys {
		count += s.Invalidate(key)
	}
	if _, err := s.provider.DeleteTag(tag); err != nil {
		s.log.Debug().Err(err).Str("tag", tag).Msg("Could not clean up tag associations")
	}
	if count > 0 {
		s.log.Debug().Str("tag", tag).Int("count", count).Msg("Invalidated by tag")
	}
	return count
}

// Tag replaces the key's tag associations.
func (s *Store) Tag(key string, tags []string) bool {
	if err := s.provider.SetTags(key, tags); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Could not tag entry")
		return false
	}
	return true
}

// KeysForTag returns all keys currently associated with the tag.
func (s *Store) KeysForTag(tag string) []string {
	keys, err := s.provider.KeysByTag(tag)
	if err != nil {
		s.log.Warn().Err(err).Str("tag", tag).Msg("Could not resolve tag")
		return nil
	}
	return keys
}

// SweepOrphans removes tag associations whose key no longer has a live
// entry.
func (s *Store) SweepOrphans() int {
	n, err := s.provider.SweepOrphans()
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not sweep orphaned tags")
		return 0
	}
	return n
}

// ClearAll removes every entry.
func (s *Store) ClearAll() int {
	n, err := s.provider.DeleteAll()
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not clear cache")
		return 0
	}
	s.log.Info().Int("count", n).Msg("Cleared cache")
	return n
}

// ClearType removes every entry of the given coarse type.
func (s *Store) ClearType(cacheType string) int {
	entries, err := s.provider.Entries()
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not list cache entries")
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.Type == cacheType {
			count += s.Invalidate(e.Key)
		}
	}
	return count
}

// ClearExpired removes entries past their expiry. Intended for a
// scheduled maintenance pass.
func (s *Store) ClearExpired() int {
	entries, err := s.provider.Entries()
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not list cache entries")
		return 0
	}
	now := s.now()
	count := 0
	for _, e := range entries {
		if e.Expired(now) {
			count += s.Invalidate(e.Key)
		}
	}
	return count
}

// Stats describes the current cache content for the operator surface.
type Stats struct {
	Entries        int         `json:"entries"`
	TotalSize      int64       `json:"totalSize"`
	CompressedSize int64       `json:"compressedSize"`
	Items          []EntryInfo `json:"items"`
}

// EntryInfo is per-entry metadata for reporting.
type EntryInfo struct {
	Key            string    `json:"key"`
	Type           string    `json:"type"`
	SizeBytes      int64     `json:"sizeBytes"`
	StoredBytes    int64     `json:"storedBytes"`
	Compressed     bool      `json:"compressed"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Expired        bool      `json:"expired"`
	LastAccessedAt time.Time `json:"lastAccessedAt,omitempty"`
	AccessCount    int64     `json:"accessCount"`
}

// Stats reports entry counts and sizes.
func (s *Store) Stats() Stats {
	entries, err := s.provider.Entries()
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not list cache entries")
		return Stats{Items: []EntryInfo{}}
	}
	stats := Stats{Items: make([]EntryInfo, 0, len(entries))}
	now := s.now()
	for _, e := range entries {
		stats.Entries++
		stats.TotalSize += e.SizeBytes
		stats.CompressedSize += e.StoredBytes()
		stats.Items = append(stats.Items, EntryInfo{
			Key:            e.Key,
			Type:           e.Type,
			SizeBytes:      e.SizeBytes,
			StoredBytes:    e.StoredBytes(),
			Compressed:     e.Compressed,
			CreatedAt:      e.CreatedAt,
			ExpiresAt:      e.ExpiresAt,
			Expired:        e.Expired(now),
			LastAccessedAt: e.LastAccessedAt,
			AccessCount:    e.AccessCount,
		})
	}
	return stats
}

func (s *Store) dropQuietly(key string) {
	if _, err := s.provider.Delete(key); err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("Could not drop entry")
	}
}

// compress gzips the payload if that actually shrinks it. The second
// return value reports whether compression was applied.
func compress(raw []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return raw, false
	}
	if err := w.Close(); err != nil {
		return raw, false
	}
	if buf.Len() >= len(raw) {
		return raw, false
	}
	return buf.Bytes(), true
}

func decompress(stored []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
