package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"linkstash/internal/config"
	"linkstash/internal/enrich"
	"linkstash/internal/links"
	"linkstash/internal/scraper"
	"linkstash/internal/storage"
)

// app is the set of long-lived components shared by every command that touches the store.
type app struct {
	repo      *storage.BadgerRepository
	scheduler *enrich.Scheduler
	links     *links.Service
}

func newScraper(cfg config.Config, logger logrus.FieldLogger) scraper.Scraper {
	if cfg.ScraperBackend == config.ScraperRod {
		return scraper.NewRodScraper(cfg.FetchUserAgent, cfg.FetchTimeout, logger)
	}
	return scraper.NewHTTPScraper(&http.Client{Timeout: cfg.FetchTimeout}, cfg.FetchUserAgent, logger)
}

func newGate(cfg config.Config, logger logrus.FieldLogger) enrich.Gate {
	if cfg.NetworkProbeAddr == "" {
		return enrich.AlwaysOnline{}
	}
	return enrich.NewProbeGate(cfg.NetworkProbeAddr, cfg.NetworkProbeInterval, logger)
}

func openApp(cfg config.Config, logger logrus.FieldLogger) (*app, error) {
	repo, err := storage.NewBadgerRepository(cfg.BadgerDBPath, logger)
	if err != nil {
		return nil, err
	}

	scheduler := enrich.New(repo, newScraper(cfg, logger), newGate(cfg, logger), enrich.Options{
		Workers:        cfg.EnrichWorkers,
		InitialBackoff: cfg.EnrichInitialBackoff,
		MaxBackoff:     cfg.EnrichMaxBackoff,
		MaxAttempts:    cfg.EnrichMaxAttempts,
	}, logger)

	return &app{
		repo:      repo,
		scheduler: scheduler,
		links:     links.NewService(repo, scheduler, logger),
	}, nil
}

// Close stops background work and closes the store.
func (a *app) Close() {
	a.scheduler.Stop()
	if err := a.repo.Close(); err != nil {
		log.WithError(err).Error("Error closing database")
	}
}

// enrichNow runs the scheduler until nothing is queued or wait elapses. Jobs still
// outstanding stay persisted and resume on the next start.
func (a *app) enrichNow(ctx context.Context, wait time.Duration) (settled bool, err error) {
	if wait <= 0 {
		return false, nil
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return false, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err = a.scheduler.Settle(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return err == nil, err
}
