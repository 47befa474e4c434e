package site

import "strconv"

// Page payloads are what the cache store persists: the expensive
// queried-and-sampled data, not the rendered markup.

// ImageTile is one grid cell.
type ImageTile struct {
	ID      int64  `json:"id"`
	AlbumID int64  `json:"albumId"`
	URL     string `json:"url"`
}

// HomePage is the front-page payload: a diversity-sampled image grid
// plus the bookkeeping the client echoes back for the next batch.
type HomePage struct {
	Title       string      `json:"title"`
	Images      []ImageTile `json:"images"`
	ShownIDs    []int64     `json:"shownIds"`
	AlbumIDs    []int64     `json:"albumIds"`
	HasMore     bool        `json:"hasMore"`
	TotalImages int         `json:"totalImages"`
}

// AlbumSummary is one entry on the galleries index.
type AlbumSummary struct {
	ID         int64  `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	ImageCount int    `json:"imageCount"`
	CoverURL   string `json:"coverUrl,omitempty"`
}

// GalleriesPage is the gallery index payload.
type GalleriesPage struct {
	Title  string         `json:"title"`
	Albums []AlbumSummary `json:"albums"`
}

// AlbumPage is a single album's payload.
type AlbumPage struct {
	ID     int64       `json:"id"`
	Slug   string      `json:"slug"`
	Title  string      `json:"title"`
	Images []ImageTile `json:"images"`
}

// BatchResponse is the JSON shape of the progressive-delivery API.
type BatchResponse struct {
	Images      []ImageTile `json:"images"`
	NewAlbumIDs []int64     `json:"newAlbumIds"`
	HasMore     bool        `json:"hasMore"`
}

func imageURL(id int64) string {
	return "/media/image/" + strconv.FormatInt(id, 10)
}
