package site

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/foliocms/folio/cache"
	"github.com/foliocms/folio/gallery"
	cachekey "github.com/foliocms/folio/pkg/cache-key"
)

// Handler serves the site's pages, the batch API, and the
// operator-facing cache surface.
type Handler struct {
	builder *Builder
	cache   *cache.Store
	gallery *gallery.Store
	log     zerolog.Logger
}

// NewHandler wires the handler.
func NewHandler(builder *Builder, store *cache.Store, g *gallery.Store, logger zerolog.Logger) *Handler {
	return &Handler{builder: builder, cache: store, gallery: g, log: logger}
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<div class="grid">
{{range .Images}}<img src="{{.URL}}" data-id="{{.ID}}" data-album="{{.AlbumID}}">
{{end}}</div>
{{if .Albums}}<ul>
{{range .Albums}}<li><a href="/album/{{.Slug}}">{{.Title}} ({{.ImageCount}})</a></li>
{{end}}</ul>{{end}}
</body></html>
`))

type pageView struct {
	Title  string
	Images []ImageTile
	Albums []AlbumSummary
}

func (h *Handler) renderPage(w http.ResponseWriter, view pageView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, view); err != nil {
		h.log.Error().Err(err).Msg("Could not render page")
	}
}

// Home serves the front page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	page, err := h.builder.Home(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Could not build home page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderPage(w, pageView{Title: page.Title, Images: page.Images})
}

// Galleries serves the gallery index.
func (h *Handler) Galleries(w http.ResponseWriter, r *http.Request) {
	page, err := h.builder.Galleries(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Could not build galleries page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderPage(w, pageView{Title: page.Title, Albums: page.Albums})
}

// Album serves a single album page.
func (h *Handler) Album(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	page, err := h.builder.Album(r.Context(), slug)
	if err == gallery.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("slug", slug).Msg("Could not build album page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderPage(w, pageView{Title: page.Title, Images: page.Images})
}

// Batch serves the next diversity-sampled batch. The client echoes
// back the item and album ids it has already seen as comma-separated
// query parameters.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 12)
	excludeItems := idSet(r.URL.Query().Get("exclude"))
	excludeAlbums := idSet(r.URL.Query().Get("excludeAlbums"))
	res, err := h.builder.NextBatch(r.Context(), excludeItems, excludeAlbums, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not sample batch")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

// Feed serves the looped masonry feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 24)
	offset := intParam(r, "offset", 0)
	res, err := h.builder.Feed(r.Context(), offset, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not build feed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

// CacheStats reports the cache content for the control panel.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.cache.Stats())
}

type clearResult struct {
	Cleared int `json:"cleared"`
}

// CacheClear clears cache entries: everything, one type, or one tag.
// The success count goes back to the operator.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("tag") != "":
		writeJSON(w, clearResult{Cleared: h.cache.InvalidateByTag(q.Get("tag"))})
	case q.Get("type") != "":
		if !cachekey.ValidType(q.Get("type")) {
			http.Error(w, "Unknown cache type: "+q.Get("type"), http.StatusBadRequest)
			return
		}
		if q.Get("slug") != "" {
			key, err := cachekey.ForType(q.Get("type"), q.Get("slug"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, clearResult{Cleared: h.cache.Invalidate(key)})
			return
		}
		writeJSON(w, clearResult{Cleared: h.cache.ClearType(q.Get("type"))})
	default:
		writeJSON(w, clearResult{Cleared: h.cache.ClearAll()})
	}
}

// CreateAlbum is the mutation handler for new albums. It persists the
// album and invalidates the affected pages by tag.
func (h *Handler) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	id, err := h.gallery.CreateAlbum(r.Context(), req.Slug, req.Title)
	if err != nil {
		h.log.Error().Err(err).Str("slug", req.Slug).Msg("Could not create album")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.builder.InvalidateAlbum(req.Slug, id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"id": id})
}

// DeleteAlbum removes an album and invalidates the affected pages.
func (h *Handler) DeleteAlbum(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	album, err := h.gallery.AlbumBySlug(r.Context(), slug)
	if err == gallery.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.gallery.DeleteAlbum(r.Context(), album.ID); err != nil {
		h.log.Error().Err(err).Str("slug", slug).Msg("Could not delete album")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.builder.InvalidateAlbum(album.Slug, album.ID)
	writeJSON(w, map[string]string{"deleted": slug})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func idSet(csv string) map[int64]bool {
	set := make(map[int64]bool)
	for _, part := range strings.Split(csv, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			set[id] = true
		}
	}
	return set
}
