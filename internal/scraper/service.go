package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
)

// RodScraper renders pages in a headless browser before extracting metadata, for sites
// that only fill in their tags from JavaScript.
type RodScraper struct {
	userAgent string
	timeout   time.Duration
	log       logrus.FieldLogger
}

var _ Scraper = (*RodScraper)(nil)

// NewRodScraper creates a new browser-backed scraper. A browser is launched per scrape.
func NewRodScraper(userAgent string, timeout time.Duration, logger logrus.FieldLogger) *RodScraper {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodScraper{
		userAgent: userAgent,
		timeout:   timeout,
		log:       logger.WithField("component", "scraper"),
	}
}

// ScrapeMetadata loads the page in a fresh browser and runs the rendered HTML through
// ExtractMetadata.
func (s *RodScraper) ScrapeMetadata(ctx context.Context, pageURL string) (meta domain.Metadata, err error) {
	log := s.log.WithField("url", pageURL)
	log.Info("Attempting to scrape metadata")

	// --- Browser Setup ---
	path, exists := launcher.LookPath()
	if !exists {
		log.Error("Cannot find browser executable for rod")
		return domain.Metadata{}, errors.New("rod browser dependency not found")
	}
	l := launcher.New().Bin(path).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err = connectOrKill(l, browser.Connect); err != nil {
		log.WithError(err).Error("Failed to connect to rod browser")
		return domain.Metadata{}, fmt.Errorf("failed to connect to browser: %w", err)
	}
	// Ensure the browser is closed when the function exits
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Error closing rod browser instance")
			l.Kill()
			if err == nil {
				err = fmt.Errorf("error closing browser: %w", closeErr)
			}
		}
		l.Cleanup()
	}()

	// --- Page Navigation ---
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		log.WithError(err).Error("Failed to create rod page")
		return domain.Metadata{}, fmt.Errorf("failed to create page: %w", err)
	}

	pageCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to set user agent: %w", err)
	}
	if err = page.Navigate(pageURL); err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to navigate: %w", err)
	}
	if err = page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Scraping timed out")
			return domain.Metadata{}, fmt.Errorf("scraping timed out for %s: %w", pageURL, pageCtx.Err())
		}
		log.WithError(err).Error("Failed to wait for page load")
		return domain.Metadata{}, fmt.Errorf("failed waiting for page load: %w", err)
	}

	// --- Extraction ---
	html, err := page.HTML()
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("failed to read rendered html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("parse document: %w", err)
	}

	base, _ := url.Parse(pageURL)
	meta = ExtractMetadata(doc, base)
	log.WithField("title", meta.Title).Info("Metadata scraping completed successfully")
	return meta, nil
}

// browserProcess is a launched browser that can be torn down.
type browserProcess interface {
	Kill()
	Cleanup()
}

var _ browserProcess = (*launcher.Launcher)(nil)

// connectOrKill runs connect and kills the launched process when it fails, so a browser
// nobody is connected to does not outlive the scrape.
func connectOrKill(proc browserProcess, connect func() error) error {
	if err := connect(); err != nil {
		proc.Kill()
		proc.Cleanup()
		return err
	}
	return nil
}
