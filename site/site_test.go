package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliocms/folio/cache"
	"github.com/foliocms/folio/conditional"
	"github.com/foliocms/folio/gallery"
	cachekey "github.com/foliocms/folio/pkg/cache-key"
	"github.com/foliocms/folio/pkg/memo"
)

type fixture struct {
	store   *cache.Store
	gallery *gallery.Store
	builder *Builder
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider, err := cache.NewSQLiteProvider(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	g, err := gallery.Open(filepath.Join(t.TempDir(), "gallery.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		provider.Close()
		g.Close()
	})

	logger := zerolog.Nop()
	store := cache.New(cache.Config{Provider: provider})
	mc := memo.New(0)
	builder := NewBuilder(BuilderConfig{
		Cache:    store,
		Gallery:  g,
		Memo:     mc,
		PageTTL:  time.Hour,
		GridSize: 6,
		Rand:     rand.New(rand.NewSource(42)),
	})
	handler := NewHandler(builder, store, g, logger)
	cond := conditional.New(conditional.Config{
		Resolver: cachekey.Resolver{},
		Digests:  store,
	})
	router := NewRouter(RouterConfig{
		Handler:     handler,
		Conditional: cond,
		Logger:      logger,
	})
	return &fixture{store: store, gallery: g, builder: builder, router: router}
}

func (f *fixture) seed(t *testing.T, albums, perAlbum int) {
	t.Helper()
	ctx := context.Background()
	for a := 1; a <= albums; a++ {
		id, err := f.gallery.CreateAlbum(ctx, fmt.Sprintf("album-%d", a), fmt.Sprintf("Album %d", a))
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i <= perAlbum; i++ {
			if _, err := f.gallery.AddImage(ctx, id, fmt.Sprintf("img-%d-%d.jpg", a, i)); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func (f *fixture) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestHomePageCachedAndConditional(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 5)

	rr := f.get("/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Home page has no ETag")
	}
	// the validator must be the stored digest, not a body hash
	digest, ok := f.store.Digest("home")
	if !ok || etag != `"`+digest+`"` {
		t.Fatalf("ETag %q does not match stored digest %q", etag, digest)
	}

	rr2 := f.get("/", http.Header{"If-None-Match": []string{etag}})
	if rr2.Code != http.StatusNotModified {
		t.Fatalf("Status is %d", rr2.Code)
	}
	if rr2.Body.Len() != 0 {
		t.Fatal("304 carried a body")
	}
	if cc := rr2.Header().Get("Cache-Control"); strings.Contains(cc, "no-store") {
		t.Fatalf("Cache-Control is %q", cc)
	}
}

func TestHomeGridCoversAlbums(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 5)
	page, err := f.builder.Home(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Images) != 6 {
		t.Fatalf("Grid has %d images", len(page.Images))
	}
	albums := make(map[int64]bool)
	for _, tile := range page.Images {
		albums[tile.AlbumID] = true
	}
	if len(albums) != 3 {
		t.Fatalf("Grid covers %d albums", len(albums))
	}
	if !page.HasMore {
		t.Fatal("HasMore should be true with 9 images left")
	}
	// second call comes from the cache
	again, err := f.builder.Home(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(again.ShownIDs) != len(page.ShownIDs) || again.ShownIDs[0] != page.ShownIDs[0] {
		t.Fatal("Cached home page differs from built one")
	}
}

func TestAlbumMutationInvalidatesByTag(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2, 3)

	// build and cache home and album pages
	if rr := f.get("/", nil); rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if rr := f.get("/album/album-1", nil); rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if _, ok := f.store.Get("album:album-1", false); !ok {
		t.Fatal("Album page not cached")
	}

	// creating an album must invalidate the home and galleries pages
	body := bytes.NewBufferString(`{"slug":"new-album","title":"New"}`)
	req := httptest.NewRequest("POST", "/admin/albums", body)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Status is %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := f.store.Get("home", false); ok {
		t.Fatal("Home page still cached after mutation")
	}

	// deleting an album drops its page via the per-album tag
	delReq := httptest.NewRequest("DELETE", "/admin/albums/album-1", nil)
	delRR := httptest.NewRecorder()
	f.router.ServeHTTP(delRR, delReq)
	if delRR.Code != http.StatusOK {
		t.Fatalf("Status is %d", delRR.Code)
	}
	if _, ok := f.store.Get("album:album-1", false); ok {
		t.Fatal("Album page still cached after deletion")
	}
}

func TestCrossTagInvalidation(t *testing.T) {
	f := newFixture(t)
	// a key tagged with several tags falls to any of them
	f.store.Set("album:sunset", "payload", time.Hour,
		[]string{TagAlbum("sunset"), TagHome})
	if n := f.store.InvalidateByTag(TagHome); n != 1 {
		t.Fatalf("Invalidated %d", n)
	}
	if _, ok := f.store.Get("album:sunset", false); ok {
		t.Fatal("album:sunset still cached")
	}
}

func TestAncillaryTagVocabulary(t *testing.T) {
	f := newFixture(t)
	f.store.Set("settings", "s", time.Hour, []string{TagSettings, TagSEO})
	f.store.Set("navigation", "n", time.Hour, []string{TagNavigation})
	f.store.Set("galleries", "g", time.Hour, []string{TagCategory(3), TagContentTag(7)})

	if n := f.store.InvalidateByTag(TagNavigation); n != 1 {
		t.Fatalf("Navigation tag invalidated %d", n)
	}
	if _, ok := f.store.Get("navigation", false); ok {
		t.Fatal("navigation still cached")
	}
	if _, ok := f.store.Get("settings", false); !ok {
		t.Fatal("settings swept by unrelated tag")
	}

	if n := f.store.InvalidateByTag(TagCategory(3)); n != 1 {
		t.Fatalf("Category tag invalidated %d", n)
	}
	// the content-tag association died with the entry
	if n := f.store.InvalidateByTag(TagContentTag(7)); n != 0 {
		t.Fatalf("Content tag invalidated %d", n)
	}

	if n := f.store.InvalidateByTag(TagSEO); n != 1 {
		t.Fatalf("SEO tag invalidated %d", n)
	}
	if _, ok := f.store.Get("settings", false); ok {
		t.Fatal("settings still cached")
	}
}

func TestBatchEndpointExcludes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3, 4)

	rr := f.get("/api/images/batch?limit=4&exclude=1,2&excludeAlbums=1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("API response Cache-Control is %q", cc)
	}
	var res BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Images) == 0 {
		t.Fatal("Batch is empty")
	}
	for _, tile := range res.Images {
		if tile.ID == 1 || tile.ID == 2 {
			t.Fatalf("Excluded image %d returned", tile.ID)
		}
	}
	for _, id := range res.NewAlbumIDs {
		if id == 1 {
			t.Fatal("Excluded album reported as new")
		}
	}
}

func TestFeedEndpointWraps(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, 3)

	rr := f.get("/api/images/feed?limit=7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	var res BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Images) != 7 {
		t.Fatalf("Feed has %d images", len(res.Images))
	}
	if res.HasMore {
		t.Fatal("HasMore must be false when the distinct pool is exhausted")
	}
}

func TestAdminSurface(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, 2)
	f.get("/", nil)

	rr := f.get("/admin/cache", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("Admin Cache-Control is %q", cc)
	}
	var stats cache.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries == 0 {
		t.Fatal("Stats report no entries")
	}

	clearReq := httptest.NewRequest("POST", "/admin/cache/clear?type=home", nil)
	clearRR := httptest.NewRecorder()
	f.router.ServeHTTP(clearRR, clearReq)
	if clearRR.Code != http.StatusOK {
		t.Fatalf("Status is %d", clearRR.Code)
	}
	if _, ok := f.store.Get("home", false); ok {
		t.Fatal("Home still cached after clear")
	}

	badReq := httptest.NewRequest("POST", "/admin/cache/clear?type=../../etc", nil)
	badRR := httptest.NewRecorder()
	f.router.ServeHTTP(badRR, badReq)
	if badRR.Code != http.StatusBadRequest {
		t.Fatalf("Unknown type got status %d", badRR.Code)
	}
}

func TestSettingsMemoized(t *testing.T) {
	f := newFixture(t)
	first := f.builder.Settings()
	if first.Title == "" {
		t.Fatal("Settings empty")
	}
	f.builder.UpdateSettings(Settings{Title: "Light & Shadow"})
	if got := f.builder.Settings(); got.Title != "Light & Shadow" {
		t.Fatalf("Settings title is %q", got.Title)
	}
}
