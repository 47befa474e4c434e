package gallery

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gallery.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, albums, perAlbum int) {
	t.Helper()
	ctx := context.Background()
	for a := 1; a <= albums; a++ {
		id, err := s.CreateAlbum(ctx, fmt.Sprintf("album-%d", a), fmt.Sprintf("Album %d", a))
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= perAlbum; i++ {
			if _, err := s.AddImage(ctx, id, fmt.Sprintf("img-%d-%d.jpg", a, i)); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestAlbumLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 2, 3)

	album, err := s.AlbumBySlug(ctx, "album-1")
	if err != nil || album.Title != "Album 1" {
		t.Fatalf("Album is %+v, err %v", album, err)
	}
	images, err := s.Images(ctx, album.ID)
	if err != nil || len(images) != 3 {
		t.Fatalf("Got %d images, err %v", len(images), err)
	}

	if err := s.DeleteAlbum(ctx, album.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AlbumBySlug(ctx, "album-1"); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if n, _ := s.CountImages(ctx); n != 3 {
		t.Fatalf("Count is %d after delete", n)
	}
}

func TestPools(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	seed(t, s, 3, 4)

	pool, err := s.RandomPool(ctx, 10)
	if err != nil || len(pool) != 10 {
		t.Fatalf("Random pool has %d items, err %v", len(pool), err)
	}

	recent, err := s.RecentPool(ctx, 5)
	if err != nil || len(recent) != 5 {
		t.Fatalf("Recent pool has %d items, err %v", len(recent), err)
	}
	// newest first means descending ids with this seed data
	for i := 1; i < len(recent); i++ {
		if recent[i].ID > recent[i-1].ID {
			t.Fatalf("Recent pool out of order: %v", recent)
		}
	}

	if n, err := s.CountImages(ctx); err != nil || n != 12 {
		t.Fatalf("Count is %d, err %v", n, err)
	}
}

func TestPoolSmallerThanLimit(t *testing.T) {
	s := testStore(t)
	seed(t, s, 1, 2)
	pool, err := s.RandomPool(context.Background(), 50)
	if err != nil || len(pool) != 2 {
		t.Fatalf("Pool has %d items, err %v", len(pool), err)
	}
}
