package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"linkstash/internal/domain"
)

// metaContent returns the first non-blank content attribute among meta tags whose
// property or name equals one of keys, trying keys in order.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		selector := `meta[property="` + key + `"], meta[name="` + key + `"]`
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.AttrOr("content", ""))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// ExtractMetadata reads Open Graph tags with their fallbacks:
// og:title then <title>, og:description then description, og:image then twitter:image.
// Relative image URLs are resolved against pageURL when it is known.
func ExtractMetadata(doc *goquery.Document, pageURL *url.URL) domain.Metadata {
	title := metaContent(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	image := metaContent(doc, "og:image", "twitter:image")
	if image != "" && pageURL != nil {
		if ref, err := url.Parse(image); err == nil {
			image = pageURL.ResolveReference(ref).String()
		}
	}

	return domain.Metadata{
		Title:       title,
		Description: metaContent(doc, "og:description", "description"),
		ImageURL:    image,
	}
}
