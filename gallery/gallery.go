// Package gallery is the relational store for albums and images, the
// slice of the schema the cache core reads. It feeds candidate pools
// to the sampler and backs the page builder.
package gallery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/foliocms/folio/sampler"
)

// Album is an owning collection of images.
type Album struct {
	ID        int64
	Slug      string
	Title     string
	CreatedAt time.Time
}

// Image is one item in an album.
type Image struct {
	ID        int64
	AlbumID   int64
	Filename  string
	CreatedAt time.Time
}

// ErrNotFound is returned for lookups of missing albums.
var ErrNotFound = fmt.Errorf("gallery: not found")

// Store wraps the gallery database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the gallery database at the given path. An
// empty path opens a shared in-memory database.
func Open(filename string) (*Store, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open gallery db: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS albums (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			slug TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			album_id INTEGER NOT NULL REFERENCES albums(id),
			filename TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS images_album_idx ON images (album_id)`,
		`CREATE INDEX IF NOT EXISTS images_created_idx ON images (created_at)`,
		`PRAGMA journal_mode=WAL`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init gallery db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateAlbum inserts an album and returns its id.
func (s *Store) CreateAlbum(ctx context.Context, slug, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO albums (slug, title, created_at) VALUES (?, ?, ?)`,
		slug, title, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("create album %s: %w", slug, err)
	}
	return res.LastInsertId()
}

// AddImage inserts an image into an album and returns its id.
func (s *Store) AddImage(ctx context.Context, albumID int64, filename string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO images (album_id, filename, created_at) VALUES (?, ?, ?)`,
		albumID, filename, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("add image to album %d: %w", albumID, err)
	}
	return res.LastInsertId()
}

// DeleteAlbum removes an album and its images.
func (s *Store) DeleteAlbum(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE album_id = ?`, id); err != nil {
		return fmt.Errorf("delete album %d images: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM albums WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete album %d: %w", id, err)
	}
	return tx.Commit()
}

// AlbumBySlug returns the album with the given slug.
func (s *Store) AlbumBySlug(ctx context.Context, slug string) (Album, error) {
	var a Album
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, title, created_at FROM albums WHERE slug = ?`, slug).
		Scan(&a.ID, &a.Slug, &a.Title, &created)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("album %s: %w", slug, err)
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

// Albums returns all albums, newest first.
func (s *Store) Albums(ctx context.Context) ([]Album, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slug, title, created_at FROM albums ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()
	albums := make([]Album, 0)
	for rows.Next() {
		var a Album
		var created int64
		if err := rows.Scan(&a.ID, &a.Slug, &a.Title, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(created, 0).UTC()
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// Images returns an album's images, newest first.
func (s *Store) Images(ctx context.Context, albumID int64) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id, filename, created_at FROM images
		WHERE album_id = ? ORDER BY created_at DESC, id DESC`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list images of album %d: %w", albumID, err)
	}
	defer rows.Close()
	return scanImages(rows)
}

// RandomPool fetches up to n candidate items in random order across
// all albums. Used for diversity-sampled batches; n should come from
// sampler.OverfetchLimit.
func (s *Store) RandomPool(ctx context.Context, n int) ([]sampler.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id FROM images ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("random pool: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// RecentPool fetches up to n items ordered by recency, for the looped
// masonry feed.
func (s *Store) RecentPool(ctx context.Context, n int) ([]sampler.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id FROM images ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent pool: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountImages returns the pool-wide distinct image count.
func (s *Store) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func scanItems(rows *sql.Rows) ([]sampler.Item, error) {
	items := make([]sampler.Item, 0)
	for rows.Next() {
		var it sampler.Item
		if err := rows.Scan(&it.ID, &it.GroupID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanImages(rows *sql.Rows) ([]Image, error) {
	images := make([]Image, 0)
	for rows.Next() {
		var img Image
		var created int64
		if err := rows.Scan(&img.ID, &img.AlbumID, &img.Filename, &created); err != nil {
			return nil, err
		}
		img.CreatedAt = time.Unix(created, 0).UTC()
		images = append(images, img)
	}
	return images, rows.Err()
}
