package domain

import (
	"strings"
	"time"
)

// Link represents a saved website link and whatever metadata enrichment found for it.
type Link struct {
	// ID is assigned by the store on creation and never changes afterwards.
	ID int64 `json:"id"`

	// URL is the canonical captured URL. It is unique across stored links.
	URL string `json:"url"`

	// Title, Description and ImageURL come from the page's metadata tags.
	// An empty string means the value is absent.
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`

	// Domain is the display host of URL with any "www." prefix removed.
	Domain string `json:"domain,omitempty"`

	IsFavorite bool `json:"is_favorite"`

	// Tags is an ordered list of user tags.
	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// EnrichFailedAt is set when enrichment ran out of attempts. Background sweeps skip
	// such links; a successful enrichment or a manual refresh clears it.
	EnrichFailedAt time.Time `json:"enrich_failed_at,omitempty"`
}

// Folder returns the implicit grouping key of the link: its domain, or the raw URL
// when no domain could be derived.
func (l Link) Folder() string {
	if strings.TrimSpace(l.Domain) != "" {
		return l.Domain
	}
	return l.URL
}

// HasMetadata reports whether enrichment has filled in at least one metadata field.
func (l Link) HasMetadata() bool {
	return l.Title != "" || l.Description != "" || l.ImageURL != ""
}

// ApplyMetadata merges fetched metadata into the link. A fetched field only replaces the
// current value when it is non-blank. Domain and UpdatedAt are always refreshed and any
// earlier enrichment failure is cleared.
func (l *Link) ApplyMetadata(meta Metadata, domain string, now time.Time) {
	if v := strings.TrimSpace(meta.Title); v != "" {
		l.Title = v
	}
	if v := strings.TrimSpace(meta.Description); v != "" {
		l.Description = v
	}
	if v := strings.TrimSpace(meta.ImageURL); v != "" {
		l.ImageURL = v
	}
	l.Domain = domain
	l.UpdatedAt = now
	l.EnrichFailedAt = time.Time{}
}

// NormalizeTags trims tags, drops blanks and duplicates, and keeps the first-seen order.
// Commas are removed because the store keeps tags in a single comma-delimited field.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, TagSeparator, " "))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// TagSeparator delimits tags in their persisted form.
const TagSeparator = ","
