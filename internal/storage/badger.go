package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"linkstash/internal/domain"
)

const (
	linkPrefix = "link:"
	urlPrefix  = "url:"
	jobPrefix  = "job:"
	linkSeqKey = "seq:link"

	// Number of IDs leased from the sequence at a time.
	seqBandwidth = 100

	maxConflictRetries = 5
	gcDiscardRatio     = 0.5
)

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db     *badger.DB
	seq    *badger.Sequence
	log    logrus.FieldLogger
	events *notifier
	now    func() time.Time
}

var _ Repository = (*BadgerRepository)(nil)

// NewBadgerRepository creates and initializes a new BadgerDB repository.
// It opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Add logger to Badger options for internal logging
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}

	seq, err := db.GetSequence([]byte(linkSeqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open link id sequence: %w", err)
	}
	logger.Info("BadgerDB opened successfully at path: ", dbPath)

	return &BadgerRepository{
		db:     db,
		seq:    seq,
		log:    logger.WithField("component", "repository"),
		events: newNotifier(),
		now:    time.Now,
	}, nil
}

// Close releases the ID sequence and closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	r.events.closeAll()
	if err := r.seq.Release(); err != nil {
		r.log.WithError(err).Warn("Error releasing link id sequence")
	}
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

// linkKey format: link:{zero-padded id}, so keys iterate in ID order.
func linkKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", linkPrefix, id))
}

// urlKey format: url:{url}, the uniqueness index pointing at the link ID.
func urlKey(url string) []byte {
	return []byte(urlPrefix + url)
}

func jobKey(linkID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", jobPrefix, linkID))
}

// linkRecord is the stored form of a link. Tags live in one delimited field.
type linkRecord struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	IsFavorite  bool      `json:"is_favorite"`
	Tags        string    `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FailedAt    time.Time `json:"enrich_failed_at,omitempty"`
}

func toRecord(l domain.Link) linkRecord {
	return linkRecord{
		ID:          l.ID,
		URL:         l.URL,
		Title:       l.Title,
		Description: l.Description,
		ImageURL:    l.ImageURL,
		Domain:      l.Domain,
		IsFavorite:  l.IsFavorite,
		Tags:        strings.Join(domain.NormalizeTags(l.Tags), domain.TagSeparator),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
		FailedAt:    l.EnrichFailedAt,
	}
}

func (rec linkRecord) toLink() domain.Link {
	var tags []string
	if rec.Tags != "" {
		tags = domain.NormalizeTags(strings.Split(rec.Tags, domain.TagSeparator))
	}
	return domain.Link{
		ID:             rec.ID,
		URL:            rec.URL,
		Title:          rec.Title,
		Description:    rec.Description,
		ImageURL:       rec.ImageURL,
		Domain:         rec.Domain,
		IsFavorite:     rec.IsFavorite,
		Tags:           tags,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		EnrichFailedAt: rec.FailedAt,
	}
}

// update runs fn in a read-write transaction, retrying when a concurrent transaction
// touched the same keys.
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.WithField("attempt", attempt+1).Debug("Transaction conflict, retrying")
	}
	return err
}

func getLink(txn *badger.Txn, id int64) (domain.Link, error) {
	item, err := txn.Get(linkKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Link{}, ErrNotFound
	}
	if err != nil {
		return domain.Link{}, err
	}

	var rec linkRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return domain.Link{}, fmt.Errorf("failed to unmarshal link %d: %w", id, err)
	}
	return rec.toLink(), nil
}

func lookupURL(txn *badger.Txn, url string) (int64, error) {
	item, err := txn.Get(urlKey(url))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = item.Value(func(val []byte) error {
		var perr error
		id, perr = strconv.ParseInt(string(val), 10, 64)
		return perr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to decode url index for %s: %w", url, err)
	}
	return id, nil
}

func putLink(txn *badger.Txn, link domain.Link) error {
	linkBytes, err := json.Marshal(toRecord(link))
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}
	return txn.SetEntry(badger.NewEntry(linkKey(link.ID), linkBytes))
}

// FindByURL returns the link saved under exactly this URL.
func (r *BadgerRepository) FindByURL(ctx context.Context, url string) (domain.Link, error) {
	var link domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := lookupURL(txn, url)
		if err != nil {
			return err
		}
		link, err = getLink(txn, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return domain.Link{}, ErrNotFound
	}
	if err != nil {
		r.log.WithError(err).WithField("url", url).Error("Failed to look up link by url")
		return domain.Link{}, fmt.Errorf("failed to find link by url: %w", err)
	}
	return link, nil
}

// GetLink returns the link with the given ID.
func (r *BadgerRepository) GetLink(ctx context.Context, id int64) (domain.Link, error) {
	var link domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		link, err = getLink(txn, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return domain.Link{}, ErrNotFound
	}
	if err != nil {
		r.log.WithError(err).WithField("link_id", id).Error("Failed to get link")
		return domain.Link{}, fmt.Errorf("failed to get link %d: %w", id, err)
	}
	return link, nil
}

// InsertLink stores the link under a fresh ID unless its URL is already indexed.
// The index lookup and the writes share one transaction, so two concurrent inserts of
// the same URL conflict and the retry resolves to the existing link.
func (r *BadgerRepository) InsertLink(ctx context.Context, link domain.Link) (int64, bool, error) {
	log := r.log.WithField("url", link.URL)
	if strings.TrimSpace(link.URL) == "" {
		return 0, false, errors.New("link url is empty")
	}

	now := r.now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = link.CreatedAt
	}

	var (
		id      int64
		created bool
	)
	err := r.update(func(txn *badger.Txn) error {
		existing, err := lookupURL(txn, link.URL)
		if err == nil {
			id, created = existing, false
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		next, err := r.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate link id: %w", err)
		}
		link.ID = int64(next) + 1
		if err := putLink(txn, link); err != nil {
			return err
		}
		if err := txn.Set(urlKey(link.URL), []byte(strconv.FormatInt(link.ID, 10))); err != nil {
			return err
		}
		id, created = link.ID, true
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to insert link")
		return 0, false, fmt.Errorf("failed to insert link: %w", err)
	}

	if created {
		log.WithField("link_id", id).Info("Link saved successfully")
		r.events.notify()
	} else {
		log.WithField("link_id", id).Debug("Link already saved")
	}
	return id, created, nil
}

// UpdateLink applies fn to the stored link inside one transaction.
func (r *BadgerRepository) UpdateLink(ctx context.Context, id int64, fn LinkMutator) (domain.Link, error) {
	log := r.log.WithField("link_id", id)

	var updated domain.Link
	err := r.update(func(txn *badger.Txn) error {
		current, err := getLink(txn, id)
		if err != nil {
			return err
		}

		next := current
		next.Tags = append([]string(nil), current.Tags...)
		if err := fn(&next); err != nil {
			return err
		}
		next.ID, next.URL, next.CreatedAt = current.ID, current.URL, current.CreatedAt

		updated = next
		return putLink(txn, next)
	})
	if errors.Is(err, ErrNotFound) {
		return domain.Link{}, ErrNotFound
	}
	if err != nil {
		log.WithError(err).Error("Failed to update link")
		return domain.Link{}, fmt.Errorf("failed to update link %d: %w", id, err)
	}

	log.Debug("Link updated")
	r.events.notify()
	return updated, nil
}

// DeleteLink removes the link and its URL index entry.
func (r *BadgerRepository) DeleteLink(ctx context.Context, id int64) error {
	log := r.log.WithField("link_id", id)

	removed := false
	err := r.update(func(txn *badger.Txn) error {
		current, err := getLink(txn, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(linkKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(urlKey(current.URL)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to delete link from BadgerDB")
		return fmt.Errorf("failed to delete link %d: %w", id, err)
	}

	if removed {
		log.Info("Link deleted successfully")
		r.events.notify()
	}
	return nil
}

// ListLinks scans all links and returns those matching q, newest first.
func (r *BadgerRepository) ListLinks(ctx context.Context, q domain.Query) ([]domain.Link, error) {
	links := []domain.Link{}

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(linkPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec linkRecord
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal link data for key %s: %w", string(item.Key()), err)
			}

			link := rec.toLink()
			if q.Matches(link) {
				links = append(links, link)
			}
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to retrieve links from BadgerDB")
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	domain.SortNewestFirst(links)
	return links, nil
}

// Subscribe registers for change signals.
func (r *BadgerRepository) Subscribe() (<-chan struct{}, func()) {
	return r.events.subscribe()
}

// RunGC runs one round of value log garbage collection.
func (r *BadgerRepository) RunGC() error {
	err := r.db.RunValueLogGC(gcDiscardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		r.log.Debug("BadgerDB GC: No rewrite needed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run value log gc: %w", err)
	}
	r.log.Info("BadgerDB GC completed successfully")
	return nil
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
