package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"linkstash/internal/domain"
)

// SaveJob stores or replaces the pending job record for a link.
func (r *BadgerRepository) SaveJob(ctx context.Context, job domain.JobRecord) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = r.update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.LinkID), jobBytes)
	})
	if err != nil {
		r.log.WithError(err).WithField("link_id", job.LinkID).Error("Failed to save job")
		return fmt.Errorf("failed to save job for link %d: %w", job.LinkID, err)
	}
	return nil
}

// DeleteJob removes the pending job record for a link, if any.
func (r *BadgerRepository) DeleteJob(ctx context.Context, linkID int64) error {
	err := r.update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(linkID))
	})
	if err != nil {
		r.log.WithError(err).WithField("link_id", linkID).Error("Failed to delete job")
		return fmt.Errorf("failed to delete job for link %d: %w", linkID, err)
	}
	return nil
}

// ListJobs returns every persisted job record in link ID order.
func (r *BadgerRepository) ListJobs(ctx context.Context) ([]domain.JobRecord, error) {
	var jobs []domain.JobRecord

	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var job domain.JobRecord
				if err := json.Unmarshal(val, &job); err != nil {
					return fmt.Errorf("failed to unmarshal job for key %s: %w", string(item.Key()), err)
				}
				jobs = append(jobs, job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
