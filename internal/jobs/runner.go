package jobs

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	cron "github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// CronJob is a periodic maintenance task.
type CronJob interface {
	Name() string
	// Schedule is a cron spec such as "@every 10m".
	Schedule() string
	Run(ctx context.Context) error
}

// TaskExecutor runs cron jobs, never more than one instance of a job at a time.
type TaskExecutor struct {
	cron     *cron.Cron
	cronJobs []CronJob
	log      logrus.FieldLogger

	mu      sync.Mutex
	running mapset.Set[string]
	ctx     context.Context
}

func NewTaskExecutor(cronJobs []CronJob, logger logrus.FieldLogger) *TaskExecutor {
	return &TaskExecutor{
		cron:     cron.New(),
		cronJobs: cronJobs,
		log:      logger.WithField("component", "tasks"),
		running:  mapset.NewThreadUnsafeSet[string](),
		ctx:      context.Background(),
	}
}

// Start registers every job with the cron and starts it. ctx is handed to each run.
func (t *TaskExecutor) Start(ctx context.Context) error {
	t.ctx = ctx
	for _, job := range t.cronJobs {
		job := job
		if err := t.cron.AddFunc(job.Schedule(), func() { t.runOnce(job) }); err != nil {
			return fmt.Errorf("failed to add task %s to cron: %w", job.Name(), err)
		}
		t.log.WithFields(logrus.Fields{
			"task":     job.Name(),
			"schedule": job.Schedule(),
		}).Info("Task scheduled")
	}

	t.cron.Start()
	return nil
}

// runOnce runs job unless a previous run is still in progress.
func (t *TaskExecutor) runOnce(job CronJob) bool {
	log := t.log.WithField("task", job.Name())

	t.mu.Lock()
	if t.running.Contains(job.Name()) {
		t.mu.Unlock()
		log.Warn("Task is already running, skipping this tick")
		return false
	}
	t.running.Add(job.Name())
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.running.Remove(job.Name())
	}()

	if err := job.Run(t.ctx); err != nil {
		log.WithError(err).Error("Task failed")
		return true
	}
	log.Debug("Task finished")
	return true
}

func (t *TaskExecutor) Stop() {
	t.log.Info("Stopping all tasks")
	t.cron.Stop()
}
