package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"linkstash/internal/domain"
	"linkstash/internal/scraper"
	"linkstash/internal/storage"
)

// Options tunes a Scheduler. Zero values take the defaults below.
type Options struct {
	// Workers bounds how many jobs run at once. Default 4.
	Workers int
	// InitialBackoff is the delay before the first retry. Default 10s.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay. Default 1h.
	MaxBackoff time.Duration
	// MaxAttempts bounds attempts per job. Default 8; negative means unbounded.
	MaxAttempts int
	// Observer, if set, receives every state transition in the order the
	// transitions happened. Calls never overlap and are made without internal
	// locks held, so the observer may call back into the Scheduler.
	Observer func(Event)
}

// Event describes one job state transition.
type Event struct {
	LinkID  int64
	State   domain.JobState
	Attempt int
	// Delay is set on JobRetrying events.
	Delay time.Duration
	Err   error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 10 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Hour
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 8
	}
	return o
}

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

type job struct {
	linkID     int64
	gen        uint64
	state      domain.JobState
	attempt    int
	enqueuedAt time.Time
	backoff    *backoff.ExponentialBackOff

	timer     stopper
	cancel    context.CancelFunc
	rerun     bool
	cancelled bool
}

func (j *job) record() domain.JobRecord {
	return domain.JobRecord{LinkID: j.linkID, Attempt: j.attempt, EnqueuedAt: j.enqueuedAt}
}

type entry struct {
	linkID int64
	gen    uint64
}

// Scheduler runs metadata enrichment jobs in the background. There is at most one job
// per link; a job waits for the network gate and a free worker before each attempt and
// backs off exponentially after failures.
type Scheduler struct {
	repo    storage.Repository
	scraper scraper.Scraper
	gate    Gate
	opts    Options
	log     logrus.FieldLogger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu       sync.Mutex
	jobs     map[int64]*job
	queue    []entry
	nextGen  uint64
	nextSeq  uint64
	wake     chan struct{}
	events   []Event
	flushing bool

	// persistMu orders job record writes; persisted holds the newest write
	// sequence applied per link so a late write never overwrites a newer one.
	persistMu sync.Mutex
	persisted map[int64]uint64

	slots  *semaphore.Weighted
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Scheduler. A nil gate means the network is always available.
func New(repo storage.Repository, s scraper.Scraper, gate Gate, opts Options, logger logrus.FieldLogger) *Scheduler {
	if gate == nil {
		gate = AlwaysOnline{}
	}
	opts = opts.withDefaults()
	return &Scheduler{
		repo:    repo,
		scraper: s,
		gate:    gate,
		opts:    opts,
		log:     logger.WithField("component", "enrich"),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		jobs:      make(map[int64]*job),
		wake:      make(chan struct{}, 1),
		persisted: make(map[int64]uint64),
		slots:     semaphore.NewWeighted(int64(opts.Workers)),
	}
}

// Start restores persisted jobs and begins dispatching. Jobs enqueued before Start wait
// for it.
func (s *Scheduler) Start(ctx context.Context) error {
	records, err := s.repo.ListJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, rec := range records {
		if _, ok := s.jobs[rec.LinkID]; ok {
			continue
		}
		j := &job{linkID: rec.LinkID, attempt: rec.Attempt, enqueuedAt: rec.EnqueuedAt, backoff: s.newBackOff()}
		s.jobs[j.linkID] = j
		s.push(j)
	}
	s.mu.Unlock()
	if len(records) > 0 {
		s.log.WithField("count", len(records)).Info("Restored pending enrichment jobs")
	}
	s.flush()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.dispatch(runCtx)
	s.log.WithField("workers", s.opts.Workers).Info("Enrichment scheduler started")
	return nil
}

// Stop halts dispatching, interrupts running attempts and waits for them to return.
// Pending jobs stay persisted and are picked up by the next Start.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
		if j.state == domain.JobRetrying {
			// Its record is persisted; the next Start restores it.
			delete(s.jobs, id)
		}
	}
	s.log.Info("Enrichment scheduler stopped")
}

// Enqueue schedules enrichment for a link. A queued or retrying job for the same link
// is replaced by a fresh one; a running job finishes its attempt and then runs once more.
func (s *Scheduler) Enqueue(ctx context.Context, linkID int64) error {
	log := s.log.WithField("link_id", linkID)

	s.mu.Lock()
	j, ok := s.jobs[linkID]
	if ok && j.state == domain.JobRunning {
		j.rerun = true
		s.mu.Unlock()
		log.Debug("Job running, follow-up attempt queued")
		return nil
	}
	if ok {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
		log.Debug("Replacing pending job")
	} else {
		j = &job{linkID: linkID}
		s.jobs[linkID] = j
	}
	s.reset(j)
	s.push(j)
	op := s.saveOp(j)
	s.mu.Unlock()

	s.flush()
	return s.persist(ctx, op)
}

// Cancel drops the job for a link. A running attempt is interrupted.
func (s *Scheduler) Cancel(ctx context.Context, linkID int64) error {
	s.mu.Lock()
	if j, ok := s.jobs[linkID]; ok {
		if j.state == domain.JobRunning {
			j.cancelled = true
			j.rerun = false
			if j.cancel != nil {
				j.cancel()
			}
		} else {
			if j.timer != nil {
				j.timer.Stop()
				j.timer = nil
			}
			delete(s.jobs, linkID)
			s.record(Event{LinkID: linkID, State: domain.JobCancelled, Attempt: j.attempt})
		}
	}
	op := s.deleteOp(linkID)
	s.mu.Unlock()

	s.flush()
	return s.persist(ctx, op)
}

// State reports the current state of the job for a link, if there is one.
func (s *Scheduler) State(linkID int64) (domain.JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[linkID]
	if !ok {
		return "", false
	}
	return j.state, true
}

// Pending returns the number of jobs that are queued or running.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.state == domain.JobQueued || j.state == domain.JobRunning {
			n++
		}
	}
	return n
}

// Settle blocks until no job is queued or running. Retrying jobs do not count.
func (s *Scheduler) Settle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		if !s.waitForWork(ctx) {
			return
		}
		if err := s.gate.Wait(ctx); err != nil {
			return
		}
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return
		}

		j, attemptCtx, attempt := s.pop(ctx)
		s.flush()
		if j == nil {
			// Replaced or cancelled while we waited.
			s.slots.Release(1)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.slots.Release(1)
			s.run(ctx, attemptCtx, j, attempt)
		}()
	}
}

func (s *Scheduler) waitForWork(ctx context.Context) bool {
	for {
		s.mu.Lock()
		s.prune()
		ready := len(s.queue) > 0
		s.mu.Unlock()
		if ready {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-s.wake:
		}
	}
}

func (s *Scheduler) pop(ctx context.Context) (*job, context.Context, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	if len(s.queue) == 0 {
		return nil, nil, 0
	}
	e := s.queue[0]
	s.queue = s.queue[1:]

	j := s.jobs[e.linkID]
	attemptCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.state = domain.JobRunning
	j.attempt++
	s.record(Event{LinkID: j.linkID, State: domain.JobRunning, Attempt: j.attempt})
	return j, attemptCtx, j.attempt
}

func (s *Scheduler) run(ctx, attemptCtx context.Context, j *job, attempt int) {
	log := s.log.WithFields(logrus.Fields{"link_id": j.linkID, "attempt": attempt})

	err := s.enrich(attemptCtx, j.linkID)
	if err != nil && attemptCtx.Err() == nil && !errors.Is(err, errLinkGone) {
		log.WithError(err).Warn("Enrichment attempt failed")
		if s.exhausted(attempt) {
			// Mark before the Failed event is recorded.
			s.markFailed(j.linkID)
		}
	}

	ops := s.finish(ctx, j, attempt, err)
	if perr := s.persist(context.Background(), ops...); perr != nil {
		log.WithError(perr).Error("Failed to persist enrichment job")
	}
	s.flush()
}

func (s *Scheduler) exhausted(attempt int) bool {
	return s.opts.MaxAttempts > 0 && attempt >= s.opts.MaxAttempts
}

// finish moves a job out of JobRunning after an attempt. It returns the job record
// writes to apply once s.mu is released.
func (s *Scheduler) finish(ctx context.Context, j *job, attempt int, err error) []persistOp {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	log := s.log.WithFields(logrus.Fields{"link_id": j.linkID, "attempt": attempt})

	switch {
	case j.cancelled:
		j.cancelled = false
		log.Info("Enrichment job cancelled")
		s.record(Event{LinkID: j.linkID, State: domain.JobCancelled, Attempt: attempt})
		return s.completeOrRerun(j)

	case err != nil && ctx.Err() != nil:
		// Shutting down: forget the job and leave the persisted record for the next Start.
		if cur, ok := s.jobs[j.linkID]; ok && cur == j {
			delete(s.jobs, j.linkID)
		}
		return nil

	case err == nil:
		s.record(Event{LinkID: j.linkID, State: domain.JobSucceeded, Attempt: attempt})
		log.Info("Link enriched")
		return s.completeOrRerun(j)

	case errors.Is(err, errLinkGone):
		j.rerun = false
		log.Info("Link no longer exists, dropping enrichment job")
		s.record(Event{LinkID: j.linkID, State: domain.JobFailed, Attempt: attempt, Err: err})
		return s.drop(j)

	case j.rerun:
		s.record(Event{LinkID: j.linkID, State: domain.JobFailed, Attempt: attempt, Err: err})
		return s.completeOrRerun(j)

	case s.exhausted(attempt):
		log.WithError(err).Warn("Giving up on enrichment after max attempts")
		s.record(Event{LinkID: j.linkID, State: domain.JobFailed, Attempt: attempt, Err: err})
		return s.drop(j)

	default:
		delay := j.backoff.NextBackOff()
		j.state = domain.JobRetrying
		gen := j.gen
		j.timer = s.afterFunc(delay, func() { s.retry(j.linkID, gen) })
		log.WithField("delay", delay).Info("Enrichment scheduled for retry")
		s.record(Event{LinkID: j.linkID, State: domain.JobRetrying, Attempt: attempt, Delay: delay, Err: err})
		return []persistOp{s.saveOp(j)}
	}
}

// completeOrRerun ends a job, unless another Enqueue arrived while it ran, in which case
// a fresh job is queued right away. Caller holds s.mu.
func (s *Scheduler) completeOrRerun(j *job) []persistOp {
	if !j.rerun {
		return s.drop(j)
	}
	j.rerun = false
	s.reset(j)
	s.push(j)
	return []persistOp{s.saveOp(j)}
}

func (s *Scheduler) retry(linkID int64, gen uint64) {
	s.mu.Lock()
	j, ok := s.jobs[linkID]
	if !ok || j.gen != gen || j.state != domain.JobRetrying {
		s.mu.Unlock()
		return
	}
	j.timer = nil
	s.push(j)
	s.mu.Unlock()

	s.flush()
}

// reset starts the job over with a fresh attempt count and backoff. Caller holds s.mu.
func (s *Scheduler) reset(j *job) {
	j.attempt = 0
	j.enqueuedAt = s.now()
	j.backoff = s.newBackOff()
	j.cancelled = false
}

// push queues j under a new generation, invalidating older queue entries and timers.
// Caller holds s.mu.
func (s *Scheduler) push(j *job) {
	s.nextGen++
	j.gen = s.nextGen
	j.state = domain.JobQueued
	s.queue = append(s.queue, entry{linkID: j.linkID, gen: j.gen})
	s.record(Event{LinkID: j.linkID, State: domain.JobQueued, Attempt: j.attempt})

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// prune discards stale entries at the head of the queue. Caller holds s.mu.
func (s *Scheduler) prune() {
	for len(s.queue) > 0 {
		e := s.queue[0]
		j, ok := s.jobs[e.linkID]
		if ok && j.gen == e.gen && j.state == domain.JobQueued {
			return
		}
		s.queue = s.queue[1:]
	}
}

// drop forgets a finished job and returns the removal of its persisted record.
// Caller holds s.mu.
func (s *Scheduler) drop(j *job) []persistOp {
	if cur, ok := s.jobs[j.linkID]; ok && cur == j {
		delete(s.jobs, j.linkID)
	}
	return []persistOp{s.deleteOp(j.linkID)}
}

// persistOp is a job record write: a save when rec is set, a delete otherwise.
type persistOp struct {
	linkID int64
	seq    uint64
	rec    *domain.JobRecord
}

// saveOp and deleteOp stamp a write with its place in the order of state changes.
// Caller holds s.mu.
func (s *Scheduler) saveOp(j *job) persistOp {
	s.nextSeq++
	rec := j.record()
	return persistOp{linkID: j.linkID, seq: s.nextSeq, rec: &rec}
}

func (s *Scheduler) deleteOp(linkID int64) persistOp {
	s.nextSeq++
	return persistOp{linkID: linkID, seq: s.nextSeq}
}

// persist applies job record writes outside s.mu. A write older than one already
// applied for the same link is skipped.
func (s *Scheduler) persist(ctx context.Context, ops ...persistOp) error {
	var firstErr error
	for _, op := range ops {
		s.persistMu.Lock()
		if op.seq < s.persisted[op.linkID] {
			s.persistMu.Unlock()
			continue
		}
		s.persisted[op.linkID] = op.seq

		var err error
		if op.rec != nil {
			err = s.repo.SaveJob(ctx, *op.rec)
		} else {
			err = s.repo.DeleteJob(ctx, op.linkID)
		}
		s.persistMu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// record queues an event for delivery by flush. Caller holds s.mu.
func (s *Scheduler) record(ev Event) {
	if s.opts.Observer != nil {
		s.events = append(s.events, ev)
	}
}

// flush delivers recorded events in order. Only one goroutine delivers at a time; a
// caller that finds delivery in progress leaves its events to that goroutine.
func (s *Scheduler) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.events) > 0 {
		batch := s.events
		s.events = nil
		s.mu.Unlock()
		for _, ev := range batch {
			s.opts.Observer(ev)
		}
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}
