package scraper

import (
	"context"

	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
)

// DefaultUserAgent is a desktop browser agent. Some sites serve stripped-down pages to
// anything that does not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Scraper defines the interface for fetching metadata from a URL.
type Scraper interface {
	// ScrapeMetadata fetches the page at url and extracts its title, description and
	// preview image. Fields the page does not provide are left empty. An error means
	// the page could not be fetched at all.
	ScrapeMetadata(ctx context.Context, url string) (domain.Metadata, error)
}

// Lookup fetches metadata and degrades every failure to empty Metadata.
func Lookup(ctx context.Context, s Scraper, url string, logger logrus.FieldLogger) domain.Metadata {
	meta, err := s.ScrapeMetadata(ctx, url)
	if err != nil {
		logger.WithError(err).WithField("url", url).Warn("Metadata lookup failed, using empty metadata")
		return domain.Metadata{}
	}
	return meta
}
