package links

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
	"linkstash/internal/storage"
	"linkstash/internal/urls"
)

// Enqueuer schedules and cancels background enrichment for links.
type Enqueuer interface {
	Enqueue(ctx context.Context, linkID int64) error
	Cancel(ctx context.Context, linkID int64) error
}

// Capture is the outcome of saving one URL.
type Capture struct {
	ID  int64
	URL string
	// Existing is true when the URL had been saved before.
	Existing bool
}

// Service is the entry point for capturing and editing links.
type Service struct {
	repo     storage.Repository
	enricher Enqueuer
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the store and the enrichment scheduler.
func NewService(repo storage.Repository, enricher Enqueuer, logger logrus.FieldLogger) *Service {
	return &Service{
		repo:     repo,
		enricher: enricher,
		log:      logger.WithField("component", "links"),
		now:      time.Now,
	}
}

// Capture extracts every URL from text and saves the ones not stored yet. New links get
// their domain right away and are handed to the enricher; metadata arrives later.
// It never waits on the network.
func (s *Service) Capture(ctx context.Context, text string) ([]Capture, error) {
	found := urls.Extract(text)
	captures := make([]Capture, 0, len(found))

	for _, u := range found {
		link := domain.Link{URL: u}
		if d, ok := urls.Domain(u); ok {
			link.Domain = d
		}

		id, created, err := s.repo.InsertLink(ctx, link)
		if err != nil {
			return captures, fmt.Errorf("save %s: %w", u, err)
		}
		captures = append(captures, Capture{ID: id, URL: u, Existing: !created})

		if !created {
			continue
		}
		if err := s.enricher.Enqueue(ctx, id); err != nil {
			// The link is saved and usable; the sweep task picks it up later.
			s.log.WithError(err).WithField("link_id", id).Warn("Failed to schedule enrichment")
		}
	}

	s.log.WithFields(logrus.Fields{
		"found": len(found),
		"saved": countNew(captures),
	}).Debug("Captured links from text")
	return captures, nil
}

// Ingest is Capture reduced to the IDs of all extracted URLs, pre-existing ones included.
func (s *Service) Ingest(ctx context.Context, text string) ([]int64, error) {
	captures, err := s.Capture(ctx, text)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(captures))
	for _, c := range captures {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// RefreshMetadata schedules a new enrichment run for an existing link, forgetting any
// earlier run that gave up.
func (s *Service) RefreshMetadata(ctx context.Context, id int64) error {
	link, err := s.repo.GetLink(ctx, id)
	if err != nil {
		return err
	}
	if !link.EnrichFailedAt.IsZero() {
		_, err := s.repo.UpdateLink(ctx, id, func(l *domain.Link) error {
			l.EnrichFailedAt = time.Time{}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := s.enricher.Enqueue(ctx, id); err != nil {
		return fmt.Errorf("schedule refresh for link %d: %w", id, err)
	}
	s.log.WithField("link_id", id).Info("Metadata refresh requested")
	return nil
}

// ToggleFavorite stores the opposite of current as the favorite flag.
func (s *Service) ToggleFavorite(ctx context.Context, id int64, current bool) (domain.Link, error) {
	return s.repo.UpdateLink(ctx, id, func(l *domain.Link) error {
		l.IsFavorite = !current
		l.UpdatedAt = s.now()
		return nil
	})
}

// SetTags replaces the tags of a link.
func (s *Service) SetTags(ctx context.Context, id int64, tags []string) (domain.Link, error) {
	tags = domain.NormalizeTags(tags)
	return s.repo.UpdateLink(ctx, id, func(l *domain.Link) error {
		l.Tags = tags
		l.UpdatedAt = s.now()
		return nil
	})
}

// Delete cancels any pending enrichment for the link and removes it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.enricher.Cancel(ctx, id); err != nil {
		s.log.WithError(err).WithField("link_id", id).Warn("Failed to cancel enrichment job")
	}
	return s.repo.DeleteLink(ctx, id)
}

// Get returns a single link.
func (s *Service) Get(ctx context.Context, id int64) (domain.Link, error) {
	return s.repo.GetLink(ctx, id)
}

// List returns the links matching q, newest first.
func (s *Service) List(ctx context.Context, q domain.Query) ([]domain.Link, error) {
	return s.repo.ListLinks(ctx, q)
}

// Folders groups all links by domain.
func (s *Service) Folders(ctx context.Context) ([]domain.Folder, error) {
	all, err := s.repo.ListLinks(ctx, domain.Query{})
	if err != nil {
		return nil, err
	}
	return domain.GroupByFolder(all), nil
}

func countNew(captures []Capture) int {
	n := 0
	for _, c := range captures {
		if !c.Existing {
			n++
		}
	}
	return n
}
