package site

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliocms/folio/cache"
	"github.com/foliocms/folio/gallery"
	cachekey "github.com/foliocms/folio/pkg/cache-key"
	"github.com/foliocms/folio/pkg/memo"
	"github.com/foliocms/folio/sampler"
)

// BuilderConfig configures the page builder.
type BuilderConfig struct {
	Cache   *cache.Store
	Gallery *gallery.Store
	Memo    *memo.Cache
	Logger  *zerolog.Logger
	// PageTTL is how long built page payloads stay cached.
	PageTTL time.Duration
	// GridSize is the initial home-grid batch size.
	GridSize int
	// OverfetchCap bounds the sampler pool query.
	OverfetchCap int
	// Rand is the sampler's randomness source; nil uses a time seed.
	Rand *rand.Rand
}

// Builder computes page payloads, caching them in the durable store.
// Cache failures are never fatal: a failed read rebuilds the page, a
// failed write serves the page uncached.
type Builder struct {
	cache    *cache.Store
	gallery  *gallery.Store
	memo     *memo.Cache
	log      zerolog.Logger
	pageTTL  time.Duration
	gridSize int
	overCap  int
	rng      *rand.Rand
}

// Settings are small computed configuration values, memoized
// per-process in front of the durable store.
type Settings struct {
	Title string `json:"title"`
}

const settingsKey = "settings"

// NewBuilder applies defaults and wires the builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.PageTTL == 0 {
		cfg.PageTTL = time.Hour
	}
	if cfg.GridSize == 0 {
		cfg.GridSize = 12
	}
	if cfg.OverfetchCap == 0 {
		cfg.OverfetchCap = 500
	}
	return &Builder{
		cache:    cfg.Cache,
		gallery:  cfg.Gallery,
		memo:     cfg.Memo,
		log:      logger.With().Str("component", "builder").Logger(),
		pageTTL:  cfg.PageTTL,
		gridSize: cfg.GridSize,
		overCap:  cfg.OverfetchCap,
		rng:      cfg.Rand,
	}
}

// Settings returns the site settings, memoized in-process. The memo
// fronts the durable store so independent processes converge on the
// stored value.
func (b *Builder) Settings() Settings {
	v, err := b.memo.GetOrCompute(settingsKey, time.Minute, func() (any, error) {
		var s Settings
		if b.cache.GetJSON(settingsKey, &s, false) {
			return s, nil
		}
		s = Settings{Title: "Portfolio"}
		b.cache.Set(settingsKey, s, 24*time.Hour, []string{TagSettings})
		return s, nil
	})
	if err != nil {
		return Settings{Title: "Portfolio"}
	}
	return v.(Settings)
}

// UpdateSettings persists new settings and drops both cache layers.
func (b *Builder) UpdateSettings(s Settings) {
	b.cache.Set(settingsKey, s, 24*time.Hour, []string{TagSettings})
	b.memo.Delete(settingsKey)
}

// Home returns the front-page payload, building and caching it on a
// miss.
func (b *Builder) Home(ctx context.Context) (HomePage, error) {
	key := cachekey.Home()
	var page HomePage
	if b.cache.GetJSON(key, &page, false) {
		return page, nil
	}

	pool, err := b.gallery.RandomPool(ctx, sampler.OverfetchLimit(b.gridSize, b.overCap))
	if err != nil {
		return page, fmt.Errorf("build home: %w", err)
	}
	total, err := b.gallery.CountImages(ctx)
	if err != nil {
		return page, fmt.Errorf("build home: %w", err)
	}
	batch := sampler.Initial(pool, b.gridSize, total, b.rng)

	page = HomePage{
		Title:       b.Settings().Title,
		Images:      tiles(batch.Items),
		ShownIDs:    batch.ShownIDs,
		AlbumIDs:    batch.NewGroupIDs,
		HasMore:     batch.HasMore,
		TotalImages: total,
	}
	b.cache.Set(key, page, b.pageTTL, []string{TagHome})
	return page, nil
}

// Galleries returns the gallery index payload.
func (b *Builder) Galleries(ctx context.Context) (GalleriesPage, error) {
	key := cachekey.Galleries()
	var page GalleriesPage
	if b.cache.GetJSON(key, &page, false) {
		return page, nil
	}

	albums, err := b.gallery.Albums(ctx)
	if err != nil {
		return page, fmt.Errorf("build galleries: %w", err)
	}
	page = GalleriesPage{Title: b.Settings().Title, Albums: make([]AlbumSummary, 0, len(albums))}
	for _, a := range albums {
		images, err := b.gallery.Images(ctx, a.ID)
		if err != nil {
			return page, fmt.Errorf("build galleries: %w", err)
		}
		summary := AlbumSummary{ID: a.ID, Slug: a.Slug, Title: a.Title, ImageCount: len(images)}
		if len(images) > 0 {
			summary.CoverURL = imageURL(images[0].ID)
		}
		page.Albums = append(page.Albums, summary)
	}
	b.cache.Set(key, page, b.pageTTL, []string{TagGalleries})
	return page, nil
}

// Album returns a single album's payload. The cache entry carries the
// album id as its related id and both the per-album and index tags.
func (b *Builder) Album(ctx context.Context, slug string) (AlbumPage, error) {
	key := cachekey.Album(slug)
	var page AlbumPage
	if b.cache.GetJSON(key, &page, false) {
		return page, nil
	}

	album, err := b.gallery.AlbumBySlug(ctx, slug)
	if err != nil {
		return page, err
	}
	images, err := b.gallery.Images(ctx, album.ID)
	if err != nil {
		return page, fmt.Errorf("build album %s: %w", slug, err)
	}
	page = AlbumPage{ID: album.ID, Slug: album.Slug, Title: album.Title}
	for _, img := range images {
		page.Images = append(page.Images, ImageTile{ID: img.ID, AlbumID: img.AlbumID, URL: imageURL(img.ID)})
	}
	b.cache.SetRelated(key, page, b.pageTTL,
		[]string{TagAlbum(album.Slug), TagAlbum(strconv.FormatInt(album.ID, 10)), TagGalleries},
		album.ID)
	return page, nil
}

// NextBatch serves the progressive-delivery API: another
// diversity-sampled batch excluding what the client has seen.
func (b *Builder) NextBatch(ctx context.Context, excludeItems, excludeGroups map[int64]bool, limit int) (BatchResponse, error) {
	pool, err := b.gallery.RandomPool(ctx, sampler.OverfetchLimit(limit, b.overCap)+len(excludeItems))
	if err != nil {
		return BatchResponse{}, fmt.Errorf("next batch: %w", err)
	}
	batch := sampler.Next(pool, excludeItems, excludeGroups, limit, b.rng)
	return BatchResponse{
		Images:      tiles(batch.Items),
		NewAlbumIDs: batch.NewGroupIDs,
		HasMore:     batch.HasMore,
	}, nil
}

// Feed serves the looped masonry feed by recency. When the requested
// window runs past the available rows the feed wraps around rather
// than running dry.
func (b *Builder) Feed(ctx context.Context, offset, limit int) (BatchResponse, error) {
	total, err := b.gallery.CountImages(ctx)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("feed: %w", err)
	}
	ordered, err := b.gallery.RecentPool(ctx, total)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("feed: %w", err)
	}
	batch := sampler.Looped(ordered, offset, limit)
	return BatchResponse{
		Images:      tiles(batch.Items),
		NewAlbumIDs: batch.NewGroupIDs,
		HasMore:     batch.HasMore,
	}, nil
}

// InvalidateAlbum drops every cache entry affected by an album
// mutation.
func (b *Builder) InvalidateAlbum(slug string, id int64) {
	b.cache.InvalidateByTag(TagAlbum(slug))
	b.cache.InvalidateByTag(TagAlbum(strconv.FormatInt(id, 10)))
	b.cache.InvalidateByTag(TagHome)
	b.cache.InvalidateByTag(TagGalleries)
}

func tiles(items []sampler.Item) []ImageTile {
	out := make([]ImageTile, len(items))
	for i, it := range items {
		out[i] = ImageTile{ID: it.ID, AlbumID: it.GroupID, URL: imageURL(it.ID)}
	}
	return out
}
