package scraper

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
)

const maxBodyBytes = 5 << 20

// HTTPScraper fetches pages with a single GET and parses the HTML with goquery.
type HTTPScraper struct {
	client    *http.Client
	userAgent string
	log       logrus.FieldLogger
}

var _ Scraper = (*HTTPScraper)(nil)

// NewHTTPScraper wires an HTTP client; a nil client gets a 20 second timeout and an empty
// userAgent falls back to DefaultUserAgent.
func NewHTTPScraper(client *http.Client, userAgent string, logger logrus.FieldLogger) *HTTPScraper {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPScraper{
		client:    client,
		userAgent: userAgent,
		log:       logger.WithField("component", "scraper"),
	}
}

// ScrapeMetadata fetches the page and extracts its metadata tags.
// Transport failures and non-2xx responses are errors; a reachable page that is not HTML
// or has no recognizable tags yields empty Metadata.
func (s *HTTPScraper) ScrapeMetadata(ctx context.Context, pageURL string) (domain.Metadata, error) {
	log := s.log.WithField("url", pageURL)
	log.Debug("Attempting to scrape metadata")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return domain.Metadata{}, fmt.Errorf("page returned %s", resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
			log.WithField("content_type", mediaType).Info("Page is not HTML, no metadata to extract")
			return domain.Metadata{}, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("parse document: %w", err)
	}

	meta := ExtractMetadata(doc, resp.Request.URL)
	log.WithFields(logrus.Fields{
		"title":       meta.Title,
		"has_image":   meta.ImageURL != "",
		"description": meta.Description != "",
	}).Info("Metadata scraping completed successfully")
	return meta, nil
}
