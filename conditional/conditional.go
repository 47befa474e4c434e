// Package conditional decides HTTP cache directives and conditional
// delivery for outbound responses.
//
// It classifies each GET/HEAD response by route class, attaches
// Cache-Control/Expires/Pragma headers, computes a content identity
// token where one is cheap to obtain, and answers 304 Not Modified
// when the client's validator still matches. Page validators come from
// the cache store's stored digests, so page bodies are never re-hashed
// on a cache hit.
package conditional

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cachekey "github.com/foliocms/folio/pkg/cache-key"
)

// DigestSource provides stored content digests for cached page keys.
// Satisfied by the cache store.
type DigestSource interface {
	Digest(key string) (string, bool)
}

// Config configures the delivery layer. Zero durations and empty
// prefixes fall back to the defaults below.
type Config struct {
	// Disabled passes every response through untouched.
	Disabled             bool
	AdminPrefix          string
	APIPrefix            string
	ProtectedMediaPrefix string
	MediaPrefix          string
	// StaticExtensions is the case-insensitive allow-list of
	// immutable-asset extensions.
	StaticExtensions []string
	StaticTTL        time.Duration
	MediaTTL         time.Duration
	HTMLTTL          time.Duration
	// BodyHashLimit caps how large a body may be hashed for a
	// fallback validator.
	BodyHashLimit int64
	Resolver      cachekey.Resolver
	Digests       DigestSource
	// Logger to use. A no-op logger is used if nil.
	Logger *zerolog.Logger
	// Now overrides the clock for Expires computation in tests.
	Now func() time.Time
}

// Defaults.
const (
	DefaultStaticTTL     = 365 * 24 * time.Hour
	DefaultMediaTTL      = 24 * time.Hour
	DefaultHTMLTTL       = 5 * time.Minute
	DefaultBodyHashLimit = 256 << 10
)

var defaultStaticExtensions = []string{
	".css", ".js", ".mjs", ".woff", ".woff2", ".ttf", ".eot", ".ico", ".svg", ".map",
}

// Conditional is the delivery layer. Use Middleware to mount it.
type Conditional struct {
	cfg        Config
	staticExts map[string]bool
	log        zerolog.Logger
	now        func() time.Time
}

// New applies defaults and builds the layer.
func New(cfg Config) *Conditional {
	if cfg.AdminPrefix == "" {
		cfg.AdminPrefix = "/admin"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	if cfg.ProtectedMediaPrefix == "" {
		cfg.ProtectedMediaPrefix = "/media/protected"
	}
	if cfg.MediaPrefix == "" {
		cfg.MediaPrefix = "/media"
	}
	if len(cfg.StaticExtensions) == 0 {
		cfg.StaticExtensions = defaultStaticExtensions
	}
	if cfg.StaticTTL == 0 {
		cfg.StaticTTL = DefaultStaticTTL
	}
	if cfg.MediaTTL == 0 {
		cfg.MediaTTL = DefaultMediaTTL
	}
	if cfg.HTMLTTL == 0 {
		cfg.HTMLTTL = DefaultHTMLTTL
	}
	if cfg.BodyHashLimit == 0 {
		cfg.BodyHashLimit = DefaultBodyHashLimit
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	exts := make(map[string]bool, len(cfg.StaticExtensions))
	for _, ext := range cfg.StaticExtensions {
		exts[strings.ToLower(ext)] = true
	}
	return &Conditional{
		cfg:        cfg,
		staticExts: exts,
		log:        logger.With().Str("component", "conditional").Logger(),
		now:        now,
	}
}

// Middleware wraps a handler with the delivery policy. First matching
// policy wins; the order follows the route classes from most to least
// specific.
func (c *Conditional) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.cfg.Disabled || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
			next.ServeHTTP(w, r)
			return
		}
		path := r.URL.Path
		switch {
		case hasPathPrefix(path, c.cfg.AdminPrefix), hasPathPrefix(path, c.cfg.APIPrefix):
			setNoStore(w.Header())
			next.ServeHTTP(w, r)
		case c.isStaticAsset(path):
			c.setStatic(w.Header())
			next.ServeHTTP(w, r)
		case hasPathPrefix(path, c.cfg.ProtectedMediaPrefix):
			setPrivateNoStore(w.Header())
			next.ServeHTTP(w, r)
		case hasPathPrefix(path, c.cfg.MediaPrefix):
			next.ServeHTTP(&mediaWriter{rw: w, layer: c, req: r}, r)
		default:
			rec := newRecorder()
			next.ServeHTTP(rec, r)
			c.deliver(w, r, rec)
		}
	})
}

// hasPathPrefix matches the prefix on segment boundaries, so /admin
// covers /admin and /admin/cache but not /administrator.
func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (c *Conditional) isStaticAsset(path string) bool {
	return c.staticExts[strings.ToLower(filepath.Ext(path))]
}

// deliver finishes a buffered response: HTML gets the HTML cache
// policy and a validator; everything else passes through unchanged.
func (c *Conditional) deliver(w http.ResponseWriter, r *http.Request, rec *recorder) {
	if !isHTML(rec.header.Get("Content-Type")) {
		rec.flush(w)
		return
	}

	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	// error pages get neither the public directive nor a validator
	if status != http.StatusOK {
		rec.flush(w)
		return
	}
	c.setHTML(rec.header)

	etag := c.pageValidator(r.URL.Path, rec)
	if etag == "" {
		rec.flush(w)
		return
	}
	rec.header.Set("ETag", etag)

	if Matches(etag, r.Header.Get("If-None-Match")) {
		c.log.Debug().Str("path", r.URL.Path).Str("etag", etag).Msg("Not modified")
		writeNotModified(w, etag, rec.header.Get("Cache-Control"))
		return
	}
	rec.flush(w)
}

// pageValidator picks the identity token for an HTML response. A
// stored digest for a known page type wins, so no body hashing occurs
// for cached pages; otherwise the body is hashed if it is small
// enough. The size is checked against the actual recorded length, not
// Content-Length, which may be absent or wrong.
func (c *Conditional) pageValidator(path string, rec *recorder) string {
	if c.cfg.Digests != nil {
		if key, ok := c.cfg.Resolver.Resolve(path); ok {
			if digest, ok := c.cfg.Digests.Digest(key); ok {
				return Quote(digest)
			}
		}
	}
	if int64(rec.body.Len()) > c.cfg.BodyHashLimit {
		return ""
	}
	return Quote(fmt.Sprintf("%x", sha256.Sum256(rec.body.Bytes())))
}

// mediaWriter intercepts the media response at header-write time. The
// weak validator is synthesized from Content-Length and Last-Modified
// when present, so the body is never read for hashing. On a validator
// match the body writes are swallowed and a 304 goes out instead.
type mediaWriter struct {
	rw          http.ResponseWriter
	layer       *Conditional
	req         *http.Request
	wroteHeader bool
	discard     bool
}

func (m *mediaWriter) Header() http.Header {
	return m.rw.Header()
}

func (m *mediaWriter) WriteHeader(status int) {
	if m.wroteHeader {
		return
	}
	m.wroteHeader = true

	h := m.rw.Header()
	m.layer.setMedia(h)

	etag := h.Get("ETag")
	if etag == "" && status == http.StatusOK {
		cl := h.Get("Content-Length")
		lm := h.Get("Last-Modified")
		if cl != "" && lm != "" {
			etag = WeakTag(cl, lm)
			h.Set("ETag", etag)
		}
	}

	if status == http.StatusOK && Matches(etag, m.req.Header.Get("If-None-Match")) {
		m.discard = true
		writeNotModified(m.rw, etag, h.Get("Cache-Control"))
		return
	}
	m.rw.WriteHeader(status)
}

func (m *mediaWriter) Write(b []byte) (int, error) {
	if !m.wroteHeader {
		m.WriteHeader(http.StatusOK)
	}
	if m.discard {
		return len(b), nil
	}
	return m.rw.Write(b)
}

func writeNotModified(w http.ResponseWriter, etag, cacheControl string) {
	h := w.Header()
	for name := range h {
		h.Del(name)
	}
	if etag != "" {
		h.Set("ETag", etag)
	}
	if cacheControl != "" {
		h.Set("Cache-Control", cacheControl)
	}
	w.WriteHeader(http.StatusNotModified)
}

func isHTML(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(mediaType)) == "text/html"
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func setPrivateNoStore(h http.Header) {
	h.Set("Cache-Control", "private, no-store, max-age=0")
	h.Set("Pragma", "no-cache")
}

func (c *Conditional) setStatic(h http.Header) {
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(c.cfg.StaticTTL.Seconds())))
	h.Set("Expires", c.now().Add(c.cfg.StaticTTL).UTC().Format(http.TimeFormat))
	h.Set("Pragma", "public")
}

func (c *Conditional) setMedia(h http.Header) {
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(c.cfg.MediaTTL.Seconds())))
	h.Set("Expires", c.now().Add(c.cfg.MediaTTL).UTC().Format(http.TimeFormat))
}

func (c *Conditional) setHTML(h http.Header) {
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, must-revalidate", int(c.cfg.HTMLTTL.Seconds())))
	h.Set("Expires", c.now().Add(c.cfg.HTMLTTL).UTC().Format(http.TimeFormat))
}
