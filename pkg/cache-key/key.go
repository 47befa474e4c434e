package cachekey

import (
	"fmt"
	"strings"
)

// Reserved cache types for the site's cacheable pages.
const (
	TypeHome      = "home"
	TypeGalleries = "galleries"
	TypeAlbum     = "album"
)

const typeSeparator = ":"

// Sanitize maps an arbitrary string to the safe cache-key alphabet.
// Any character outside [a-z0-9:_-] is replaced with an underscore.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ':', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SanitizeSlug is like Sanitize but also rejects the colon, so the
// result is safe as a single path element for the file provider.
func SanitizeSlug(slug string) string {
	return strings.ReplaceAll(Sanitize(slug), ":", "_")
}

// Home returns the cache key for the front page.
func Home() string { return TypeHome }

// Galleries returns the cache key for the gallery index page.
func Galleries() string { return TypeGalleries }

// Album returns the cache key for a single album page.
func Album(slug string) string {
	return TypeAlbum + typeSeparator + SanitizeSlug(slug)
}

// TypeOf extracts the coarse type from a cache key, i.e. everything up
// to the first separator. Used for reporting and maintenance queries,
// never for identity.
func TypeOf(key string) string {
	t, _, _ := strings.Cut(key, typeSeparator)
	return t
}

// ValidType reports whether the operator-supplied type string names a
// known cache type.
func ValidType(cacheType string) bool {
	switch cacheType {
	case TypeHome, TypeGalleries, TypeAlbum:
		return true
	}
	return false
}

// ForType builds a cache key from an operator-supplied type string and
// optional slug. Unknown types are rejected rather than sanitized into
// some unintended key.
func ForType(cacheType, slug string) (string, error) {
	switch cacheType {
	case TypeHome:
		return Home(), nil
	case TypeGalleries:
		return Galleries(), nil
	case TypeAlbum:
		if slug == "" {
			return "", fmt.Errorf("album type requires a slug")
		}
		return Album(slug), nil
	default:
		return "", fmt.Errorf("unknown cache type: %s", cacheType)
	}
}

// Resolver maps request paths to cache keys for the pages the site
// caches. BasePath is stripped before matching, so the site can be
// mounted under a subdirectory.
type Resolver struct {
	BasePath string
}

// Resolve returns the cache key for the given request path, if the
// path corresponds to a cached page type.
func (r Resolver) Resolve(path string) (string, bool) {
	p := strings.TrimPrefix(path, r.BasePath)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimSuffix(p, "/")
	switch {
	case p == "" || p == "/index.html":
		return Home(), true
	case p == "/galleries":
		return Galleries(), true
	case strings.HasPrefix(p, "/album/"):
		slug := strings.TrimPrefix(p, "/album/")
		if slug == "" || strings.Contains(slug, "/") {
			return "", false
		}
		return Album(slug), true
	}
	return "", false
}
