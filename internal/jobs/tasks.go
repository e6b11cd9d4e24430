package jobs

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
)

// GarbageCollector is implemented by stores that need periodic compaction.
type GarbageCollector interface {
	RunGC() error
}

// GCTask compacts the link store.
type GCTask struct {
	store GarbageCollector
	cron  string
}

func NewGCTask(schedule string, store GarbageCollector) *GCTask {
	return &GCTask{store: store, cron: schedule}
}

func (g *GCTask) Name() string {
	return "value_log_gc"
}

func (g *GCTask) Schedule() string {
	return g.cron
}

func (g *GCTask) Run(ctx context.Context) error {
	return g.store.RunGC()
}

// LinkLister is the part of the link store the sweep reads.
type LinkLister interface {
	ListLinks(ctx context.Context, q domain.Query) ([]domain.Link, error)
}

// Enricher is the part of the enrichment scheduler the sweep drives.
type Enricher interface {
	Enqueue(ctx context.Context, linkID int64) error
	State(linkID int64) (domain.JobState, bool)
}

// SweepTask re-enqueues links that were captured but never enriched and have no job
// waiting for them, for example after a crash or exhausted retries.
type SweepTask struct {
	links    LinkLister
	enricher Enricher
	cron     string
	log      logrus.FieldLogger
}

func NewSweepTask(schedule string, links LinkLister, enricher Enricher, logger logrus.FieldLogger) *SweepTask {
	return &SweepTask{
		links:    links,
		enricher: enricher,
		cron:     schedule,
		log:      logger.WithField("component", "sweep"),
	}
}

func (s *SweepTask) Name() string {
	return "enrichment_sweep"
}

func (s *SweepTask) Schedule() string {
	return s.cron
}

func (s *SweepTask) Run(ctx context.Context) error {
	all, err := s.links.ListLinks(ctx, domain.Query{})
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	requeued := 0
	for _, link := range all {
		if !needsEnrichment(link) {
			continue
		}
		if _, pending := s.enricher.State(link.ID); pending {
			continue
		}
		if err := s.enricher.Enqueue(ctx, link.ID); err != nil {
			return fmt.Errorf("enqueue link %d: %w", link.ID, err)
		}
		requeued++
	}

	if requeued > 0 {
		s.log.WithField("count", requeued).Info("Re-enqueued links missing metadata")
	}
	return nil
}

// needsEnrichment is true for links untouched since capture. A finished enrichment always
// bumps UpdatedAt, even when the page had nothing to offer; one that ran out of attempts
// marks the link instead.
func needsEnrichment(l domain.Link) bool {
	return !l.HasMetadata() && !l.UpdatedAt.After(l.CreatedAt) && l.EnrichFailedAt.IsZero()
}
