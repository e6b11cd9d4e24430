package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"linkstash/internal/domain"
	"linkstash/internal/storage"
	"linkstash/internal/urls"
)

// errLinkGone ends a job without retrying.
var errLinkGone = errors.New("link no longer exists")

// enrich performs one attempt: fetch the page of the stored link and merge whatever
// metadata it has into the current version of the link.
func (s *Scheduler) enrich(ctx context.Context, linkID int64) error {
	link, err := s.repo.GetLink(ctx, linkID)
	if errors.Is(err, storage.ErrNotFound) {
		return errLinkGone
	}
	if err != nil {
		return fmt.Errorf("load link %d: %w", linkID, err)
	}

	meta, err := s.scraper.ScrapeMetadata(ctx, link.URL)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", link.URL, err)
	}

	_, err = s.repo.UpdateLink(ctx, linkID, func(l *domain.Link) error {
		l.ApplyMetadata(meta, linkDomain(*l), s.now())
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return errLinkGone
	}
	if err != nil {
		return fmt.Errorf("save metadata for link %d: %w", linkID, err)
	}
	return nil
}

// markFailed records on the link that enrichment gave up, so sweeps leave it alone
// until a manual refresh.
func (s *Scheduler) markFailed(linkID int64) {
	_, err := s.repo.UpdateLink(context.Background(), linkID, func(l *domain.Link) error {
		l.EnrichFailedAt = s.now()
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.WithError(err).WithField("link_id", linkID).Error("Failed to mark link as unenrichable")
	}
}

// linkDomain keeps a domain already set on the link and derives one from the URL otherwise.
func linkDomain(l domain.Link) string {
	if strings.TrimSpace(l.Domain) != "" {
		return l.Domain
	}
	d, _ := urls.Domain(l.URL)
	return d
}
