package storage

import (
	"context"
	"errors"

	"linkstash/internal/domain"
)

// ErrNotFound is returned when a link or job does not exist.
var ErrNotFound = errors.New("not found")

// LinkMutator edits a link inside an atomic read-modify-write.
// Returning an error aborts the update.
type LinkMutator func(link *domain.Link) error

// Repository defines the interface for data storage operations.
// This allows us to swap storage implementations without changing the
// ingestion and enrichment code that uses it.
type Repository interface {
	// FindByURL returns the link stored under exactly this URL, or ErrNotFound.
	FindByURL(ctx context.Context, url string) (domain.Link, error)

	// GetLink returns the link with the given ID, or ErrNotFound.
	GetLink(ctx context.Context, id int64) (domain.Link, error)

	// InsertLink stores a new link unless its URL is already saved. It returns the ID of
	// the stored link and whether this call created it.
	InsertLink(ctx context.Context, link domain.Link) (id int64, created bool, err error)

	// UpdateLink applies fn to the current version of the link and stores the result
	// atomically. ID, URL and CreatedAt are preserved whatever fn does.
	UpdateLink(ctx context.Context, id int64, fn LinkMutator) (domain.Link, error)

	// DeleteLink removes a link. Deleting a missing link is not an error.
	DeleteLink(ctx context.Context, id int64) error

	// ListLinks returns the links matching q, newest first.
	ListLinks(ctx context.Context, q domain.Query) ([]domain.Link, error)

	JobStore

	// Subscribe returns a channel that receives a signal after committed link changes,
	// and a function that ends the subscription.
	Subscribe() (<-chan struct{}, func())

	// RunGC reclaims space from the underlying store, if it needs that.
	RunGC() error

	// Close gracefully shuts down the repository connection.
	Close() error
}

// JobStore persists outstanding enrichment jobs so they survive restarts.
type JobStore interface {
	SaveJob(ctx context.Context, job domain.JobRecord) error
	DeleteJob(ctx context.Context, linkID int64) error
	ListJobs(ctx context.Context) ([]domain.JobRecord, error)
}
