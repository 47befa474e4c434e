package site

import "fmt"

// Cache tags. Invalidation triggers do not know which cache keys
// exist; they know semantic relationships. Mutation handlers
// invalidate by tag and the tag index resolves the affected keys.
const (
	TagHome       = "tag:home"
	TagGalleries  = "tag:galleries"
	TagSettings   = "tag:settings"
	TagNavigation = "tag:navigation"
	TagSEO        = "tag:seo"
)

// TagAlbum returns the per-album tag, keyed by slug or numeric id.
func TagAlbum(idOrSlug string) string {
	return "tag:album:" + idOrSlug
}

// TagCategory returns the per-category tag.
func TagCategory(id int64) string {
	return fmt.Sprintf("tag:category:%d", id)
}

// TagContentTag returns the tag for a content tag entity.
func TagContentTag(id int64) string {
	return fmt.Sprintf("tag:content_tag:%d", id)
}
