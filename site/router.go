package site

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/foliocms/folio/conditional"
)

// RouterConfig holds everything the router mounts.
type RouterConfig struct {
	Handler     *Handler
	Conditional *conditional.Conditional
	Logger      zerolog.Logger
	// StaticDir and MediaDir are served as-is; cache directives come
	// from the conditional layer.
	StaticDir string
	MediaDir  string
}

// NewRouter builds the site's HTTP surface. The conditional delivery
// layer wraps every route so the policy table sees admin, API, media
// and page responses alike.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logging(cfg.Logger))
	r.Use(Recovery(cfg.Logger))
	r.Use(cfg.Conditional.Middleware)

	r.Get("/", cfg.Handler.Home)
	r.Get("/galleries", cfg.Handler.Galleries)
	r.Get("/album/{slug}", cfg.Handler.Album)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
		r.Get("/images/batch", cfg.Handler.Batch)
		r.Get("/images/feed", cfg.Handler.Feed)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/cache", cfg.Handler.CacheStats)
		r.Post("/cache/clear", cfg.Handler.CacheClear)
		r.Post("/albums", cfg.Handler.CreateAlbum)
		r.Delete("/albums/{slug}", cfg.Handler.DeleteAlbum)
	})

	if cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	}
	if cfg.MediaDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.MediaDir))
		r.Handle("/media/*", http.StripPrefix("/media/", fileServer))
	}

	return r
}
