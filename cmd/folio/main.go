package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/foliocms/folio/cache"
	"github.com/foliocms/folio/conditional"
	"github.com/foliocms/folio/config"
	"github.com/foliocms/folio/gallery"
	cachekey "github.com/foliocms/folio/pkg/cache-key"
	"github.com/foliocms/folio/pkg/memo"
	"github.com/foliocms/folio/site"
)

var (
	configFilenameFlag string
	portFlag           int
	backendFlag        string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&backendFlag, "backend", "", "Cache backend to use (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if backendFlag != "" {
		cfg.Cache.Backend = backendFlag
	}

	provider, err := cache.OpenProvider(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache backend")
	}
	defer provider.Close()
	log.Info().Str("backend", cfg.Cache.Backend).Str("path", cfg.Cache.Path).Msg("Cache backend ready")

	store := cache.New(cache.Config{
		Provider: provider,
		Logger:   &log.Logger,
	})

	g, err := gallery.Open(cfg.Site.GalleryPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open gallery database")
	}
	defer g.Close()

	mc := memo.New(time.Minute)
	defer mc.Close()

	builder := site.NewBuilder(site.BuilderConfig{
		Cache:        store,
		Gallery:      g,
		Memo:         mc,
		Logger:       &log.Logger,
		PageTTL:      cfg.Cache.PageTTL.Std(),
		GridSize:     cfg.Site.GridSize,
		OverfetchCap: cfg.Site.OverfetchCap,
		Rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	})
	if cfg.Site.Title != "" {
		builder.UpdateSettings(site.Settings{Title: cfg.Site.Title})
	}

	handler := site.NewHandler(builder, store, g, log.Logger)

	cond := conditional.New(conditional.Config{
		Disabled:      cfg.Delivery.Disabled,
		HTMLTTL:       cfg.Delivery.HTMLTTL.Std(),
		MediaTTL:      cfg.Delivery.MediaTTL.Std(),
		StaticTTL:     cfg.Delivery.StaticTTL.Std(),
		BodyHashLimit: cfg.Delivery.BodyHashLimit,
		Resolver:      cachekey.Resolver{BasePath: cfg.Server.BasePath},
		Digests:       store,
		Logger:        &log.Logger,
	})

	router := site.NewRouter(site.RouterConfig{
		Handler:     handler,
		Conditional: cond,
		Logger:      log.Logger,
		StaticDir:   cfg.Server.StaticDir,
		MediaDir:    cfg.Server.MediaDir,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("Listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
