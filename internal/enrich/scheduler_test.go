package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkstash/internal/domain"
	"linkstash/internal/storage"
)

const waitTimeout = 5 * time.Second

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupRepo(t *testing.T) *storage.BadgerRepository {
	t.Helper()
	repo, err := storage.NewBadgerRepository(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

type fakeScraper struct {
	calls atomic.Int32
	fn    func(ctx context.Context, url string) (domain.Metadata, error)
}

func (f *fakeScraper) ScrapeMetadata(ctx context.Context, url string) (domain.Metadata, error) {
	f.calls.Add(1)
	return f.fn(ctx, url)
}

type nopTimer struct{}

func (nopTimer) Stop() bool { return false }

// recorder collects scheduler events.
type recorder struct {
	ch chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) observe(ev Event) {
	r.ch <- ev
}

// waitFor consumes events until one for linkID reaches state, and returns all events
// seen for that link on the way.
func (r *recorder) waitFor(t *testing.T, linkID int64, state domain.JobState) []Event {
	t.Helper()
	var seen []Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.LinkID != linkID {
				continue
			}
			seen = append(seen, ev)
			if ev.State == state {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for link %d to reach %s; saw %+v", linkID, state, seen)
			return nil
		}
	}
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
}

func TestScheduler_EnrichesLink(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://www.example.com/post", Description: "kept"})
	require.NoError(t, err)
	before, err := repo.GetLink(ctx, id)
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		assert.Equal(t, "https://www.example.com/post", url)
		return domain.Metadata{Title: "Fetched", ImageURL: "https://cdn.example.com/a.png"}, nil
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	events := rec.waitFor(t, id, domain.JobSucceeded)
	assert.Equal(t, 1, events[len(events)-1].Attempt)
	assert.EqualValues(t, 1, fs.calls.Load())

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Fetched", link.Title)
	assert.Equal(t, "kept", link.Description, "blank fetched values must not overwrite")
	assert.Equal(t, "https://cdn.example.com/a.png", link.ImageURL)
	assert.Equal(t, "example.com", link.Domain)
	assert.False(t, link.UpdatedAt.Before(before.UpdatedAt))

	_, ok := s.State(id)
	assert.False(t, ok, "finished jobs are forgotten")
	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestScheduler_EmptyMetadataIsSuccess(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{
		URL:         "https://example.com/file.pdf",
		Title:       "Old title",
		Description: "Old description",
		Domain:      "custom.example",
	})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, nil
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	rec.waitFor(t, id, domain.JobSucceeded)

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Old title", link.Title)
	assert.Equal(t, "Old description", link.Description)
	assert.Equal(t, "custom.example", link.Domain, "an existing domain is kept")
}

func TestScheduler_RetriesWithDoublingBackoff(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/flaky"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, errors.New("connection reset")
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{MaxAttempts: 4, Observer: rec.observe}, testLogger())

	var mu sync.Mutex
	var delays []time.Duration
	s.afterFunc = func(d time.Duration, f func()) stopper {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		go f()
		return nopTimer{}
	}
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	events := rec.waitFor(t, id, domain.JobFailed)

	var retries []Event
	for _, ev := range events {
		if ev.State == domain.JobRetrying {
			retries = append(retries, ev)
			assert.Error(t, ev.Err)
		}
	}
	assert.Len(t, retries, 3)
	assert.Equal(t, 4, events[len(events)-1].Attempt)
	assert.EqualValues(t, 4, fs.calls.Load())

	mu.Lock()
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, delays)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		jobs, err := repo.ListJobs(ctx)
		return err == nil && len(jobs) == 0
	}, waitTimeout, 10*time.Millisecond, "failed jobs are not kept")
}

func TestScheduler_ExhaustedJobMarksLink(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/gone-for-good"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, errors.New("503 service unavailable")
	}}
	rec := newRecorder()
	failedAt := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := New(repo, fs, nil, Options{MaxAttempts: 2, Observer: rec.observe}, testLogger())
	s.now = func() time.Time { return failedAt }
	s.afterFunc = func(d time.Duration, f func()) stopper {
		go f()
		return nopTimer{}
	}
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	rec.waitFor(t, id, domain.JobFailed)

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, failedAt, link.EnrichFailedAt.UTC())
	assert.False(t, link.HasMetadata())
}

func TestScheduler_RetryingJobIsNotMarked(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/later"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, errors.New("timeout")
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{MaxAttempts: 3, Observer: rec.observe}, testLogger())
	s.afterFunc = func(d time.Duration, f func()) stopper { return nopTimer{} }
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	rec.waitFor(t, id, domain.JobRetrying)

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.True(t, link.EnrichFailedAt.IsZero())
}

func TestScheduler_RetryingJobIsPersisted(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/down"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, errors.New("no route to host")
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	s.afterFunc = func(d time.Duration, f func()) stopper { return nopTimer{} }
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	events := rec.waitFor(t, id, domain.JobRetrying)
	assert.Equal(t, 10*time.Second, events[len(events)-1].Delay)

	state, ok := s.State(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobRetrying, state)

	var jobs []domain.JobRecord
	require.Eventually(t, func() bool {
		jobs, err = repo.ListJobs(ctx)
		return err == nil && len(jobs) == 1 && jobs[0].Attempt == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, id, jobs[0].LinkID)
}

func TestScheduler_MissingLinkFailsWithoutRetry(t *testing.T) {
	repo := setupRepo(t)
	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{Title: "x"}, nil
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(context.Background(), 999))
	events := rec.waitFor(t, 999, domain.JobFailed)
	for _, ev := range events {
		assert.NotEqual(t, domain.JobRetrying, ev.State)
	}
	assert.Zero(t, fs.calls.Load())
}

func TestScheduler_ReplacesQueuedJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/once"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{Title: "Once"}, nil
	}}
	rec := newRecorder()
	gate := NewManualGate(false)
	s := New(repo, fs, gate, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, id))
	}
	state, ok := s.State(id)
	require.True(t, ok)
	assert.Equal(t, domain.JobQueued, state)
	assert.Equal(t, 1, s.Pending())

	gate.Set(true)
	rec.waitFor(t, id, domain.JobSucceeded)

	// Give stale queue entries a chance to run if they were not discarded.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, fs.calls.Load())
}

func TestScheduler_EnqueueWhileRunningRunsAgain(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/busy"})
	require.NoError(t, err)

	release := make(chan struct{})
	fs := &fakeScraper{}
	fs.fn = func(ctx context.Context, url string) (domain.Metadata, error) {
		if fs.calls.Load() == 1 {
			<-release
		}
		return domain.Metadata{Title: "Busy"}, nil
	}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	rec.waitFor(t, id, domain.JobRunning)
	require.NoError(t, s.Enqueue(ctx, id))
	close(release)

	rec.waitFor(t, id, domain.JobSucceeded)
	rec.waitFor(t, id, domain.JobSucceeded)
	assert.EqualValues(t, 2, fs.calls.Load())
}

func TestScheduler_CancelQueuedJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/gone"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{}, nil
	}}
	rec := newRecorder()
	gate := NewManualGate(false)
	s := New(repo, fs, gate, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	require.NoError(t, s.Cancel(ctx, id))
	rec.waitFor(t, id, domain.JobCancelled)

	_, ok := s.State(id)
	assert.False(t, ok)
	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	gate.Set(true)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, fs.calls.Load())
}

func TestScheduler_CancelRunningJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/slow"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		<-ctx.Done()
		return domain.Metadata{}, ctx.Err()
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	rec.waitFor(t, id, domain.JobRunning)
	require.NoError(t, s.Cancel(ctx, id))

	events := rec.waitFor(t, id, domain.JobCancelled)
	for _, ev := range events {
		assert.NotEqual(t, domain.JobRetrying, ev.State)
	}
	_, ok := s.State(id)
	assert.False(t, ok)
}

func TestScheduler_RestoresPersistedJobs(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/restored"})
	require.NoError(t, err)
	require.NoError(t, repo.SaveJob(ctx, domain.JobRecord{LinkID: id, Attempt: 2, EnqueuedAt: time.Now()}))

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{Title: "Restored"}, nil
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	events := rec.waitFor(t, id, domain.JobSucceeded)
	assert.Equal(t, 3, events[len(events)-1].Attempt, "attempt count carries over")

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Restored", link.Title)
}

func TestScheduler_SettleWaitsForQueuedJobs(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/settle"})
	require.NoError(t, err)

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{Title: "Settled"}, nil
	}}
	s := New(repo, fs, nil, Options{}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	require.NoError(t, s.Settle(waitCtx))
	assert.Zero(t, s.Pending())
}

func TestScheduler_RestartResumesInterruptedJob(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	id, _, err := repo.InsertLink(ctx, domain.Link{URL: "https://example.com/interrupted"})
	require.NoError(t, err)

	var interrupt atomic.Bool
	interrupt.Store(true)
	started := make(chan struct{}, 1)
	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		if interrupt.Load() {
			started <- struct{}{}
			<-ctx.Done()
			return domain.Metadata{}, ctx.Err()
		}
		return domain.Metadata{Title: "Resumed"}, nil
	}}
	rec := newRecorder()
	s := New(repo, fs, nil, Options{Observer: rec.observe}, testLogger())
	startScheduler(t, s)

	require.NoError(t, s.Enqueue(ctx, id))
	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("attempt never started")
	}
	s.Stop()

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "an interrupted job stays persisted")

	interrupt.Store(false)
	require.NoError(t, s.Start(ctx))
	rec.waitFor(t, id, domain.JobSucceeded)

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	require.NoError(t, s.Settle(waitCtx))

	link, err := repo.GetLink(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Resumed", link.Title)
}

func TestScheduler_ObserverSeesTransitionsInOrder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	fs := &fakeScraper{fn: func(ctx context.Context, url string) (domain.Metadata, error) {
		return domain.Metadata{Title: "t"}, nil
	}}

	var (
		mu     sync.Mutex
		byLink = make(map[int64][]domain.JobState)
		done   = make(chan struct{}, 64)
		s      *Scheduler
	)
	observe := func(ev Event) {
		// Calling back into the scheduler from the observer must not deadlock.
		s.State(ev.LinkID)

		mu.Lock()
		byLink[ev.LinkID] = append(byLink[ev.LinkID], ev.State)
		mu.Unlock()
		if ev.State == domain.JobSucceeded {
			done <- struct{}{}
		}
	}
	s = New(repo, fs, nil, Options{Workers: 4, Observer: observe}, testLogger())
	startScheduler(t, s)

	const n = 20
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, _, err := repo.InsertLink(ctx, domain.Link{URL: fmt.Sprintf("https://example.com/%d", i)})
		require.NoError(t, err)
		ids = append(ids, id)
		require.NoError(t, s.Enqueue(ctx, id))
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Fatalf("only %d of %d jobs succeeded", i, n)
		}
	}

	mu.Lock()
	for _, id := range ids {
		assert.Equal(t, []domain.JobState{domain.JobQueued, domain.JobRunning, domain.JobSucceeded}, byLink[id], "link %d", id)
	}
	mu.Unlock()

	assert.Eventually(t, func() bool {
		jobs, err := repo.ListJobs(ctx)
		return err == nil && len(jobs) == 0
	}, waitTimeout, 10*time.Millisecond, "no record outlives its job")
}
