package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteProvider stores cache entries in a SQLite database.
// Writes are serialized through a single mutex; reads go straight to
// the database in WAL mode.
type SQLiteProvider struct {
	db         *sql.DB
	writeMutex sync.Mutex
}

// NewSQLiteProvider opens (or creates) the cache database at the given
// path. If the path is empty, a shared in-memory database is used.
func NewSQLiteProvider(filename string) (*SQLiteProvider, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			related_id INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			last_accessed_at INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS cache_expires_idx ON cache_entries (expires_at)`,
		`CREATE INDEX IF NOT EXISTS cache_type_idx ON cache_entries (type)`,
		`CREATE TABLE IF NOT EXISTS cache_tags (
			tag TEXT NOT NULL,
			key TEXT NOT NULL,
			PRIMARY KEY (tag, key)
		)`,
		`CREATE INDEX IF NOT EXISTS cache_tags_key_idx ON cache_tags (key)`,
		`PRAGMA journal_mode=WAL`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init cache db: %w", err)
		}
	}
	return &SQLiteProvider{db: db}, nil
}

func (s *SQLiteProvider) Get(key string) (Entry, bool, error) {
	e, err := scanEntry(s.db.QueryRow(
		`SELECT key, type, related_id, version, payload, compressed, digest,
			size_bytes, created_at, expires_at, last_accessed_at, access_count
		FROM cache_entries WHERE key = ?`, key))
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *SQLiteProvider) Put(e Entry, tags []string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.Exec(
		`INSERT INTO cache_entries
			(key, type, related_id, version, payload, compressed, digest,
			size_bytes, created_at, expires_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			related_id = excluded.related_id,
			version = excluded.version,
			payload = excluded.payload,
			compressed = excluded.compressed,
			digest = excluded.digest,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_accessed_at = 0,
			access_count = 0`,
		e.Key, e.Type, e.RelatedID, e.Version, e.Payload, e.Compressed,
		e.Digest, e.SizeBytes, e.CreatedAt.Unix(), e.ExpiresAt.Unix())
	if err != nil {
		return err
	}
	if err := replaceTags(tx, e.Key, tags); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteProvider) Delete(key string) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}

func (s *SQLiteProvider) DeleteAll() (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`DELETE FROM cache_tags`); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteProvider) Keys(cb func(string)) {
	rows, err := s.db.Query(`SELECT key FROM cache_entries`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return
		}
		cb(key)
	}
}

func (s *SQLiteProvider) Entries() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT key, type, related_id, version, compressed, digest, size_bytes,
			length(payload), created_at, expires_at, last_accessed_at, access_count
		FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var storedLen int64
		var created, expires, accessed int64
		if err := rows.Scan(&e.Key, &e.Type, &e.RelatedID, &e.Version,
			&e.Compressed, &e.Digest, &e.SizeBytes, &storedLen,
			&created, &expires, &accessed, &e.AccessCount); err != nil {
			return nil, err
		}
		// keep StoredBytes usable without hauling the payload around
		e.Payload = make([]byte, storedLen)
		e.CreatedAt = time.Unix(created, 0).UTC()
		e.ExpiresAt = time.Unix(expires, 0).UTC()
		if accessed > 0 {
			e.LastAccessedAt = time.Unix(accessed, 0).UTC()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteProvider) Touch(key string, at time.Time) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		`UPDATE cache_entries SET last_accessed_at = ?, access_count = access_count + 1
		WHERE key = ?`, at.Unix(), key)
	return err
}

func (s *SQLiteProvider) SetTags(key string, tags []string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := replaceTags(tx, key, tags); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteProvider) TagsOf(key string) ([]string, error) {
	return s.stringColumn(`SELECT tag FROM cache_tags WHERE key = ? ORDER BY tag`, key)
}

func (s *SQLiteProvider) KeysByTag(tag string) ([]string, error) {
	return s.stringColumn(`SELECT key FROM cache_tags WHERE tag = ? ORDER BY key`, tag)
}

func (s *SQLiteProvider) DeleteTag(tag string) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.Exec(`DELETE FROM cache_tags WHERE tag = ?`, tag)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteProvider) SweepOrphans() (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.Exec(
		`DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache_entries)`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

func (s *SQLiteProvider) stringColumn(query string, arg any) ([]string, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func replaceTags(tx *sql.Tx, key string, tags []string) error {
	if _, err := tx.Exec(`DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)`, tag, key); err != nil {
			return err
		}
	}
	return nil
}

func scanEntry(row *sql.Row) (Entry, error) {
	var e Entry
	var created, expires, accessed int64
	err := row.Scan(&e.Key, &e.Type, &e.RelatedID, &e.Version, &e.Payload,
		&e.Compressed, &e.Digest, &e.SizeBytes, &created, &expires,
		&accessed, &e.AccessCount)
	if err != nil {
		return e, err
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.ExpiresAt = time.Unix(expires, 0).UTC()
	if accessed > 0 {
		e.LastAccessedAt = time.Unix(accessed, 0).UTC()
	}
	return e, nil
}
