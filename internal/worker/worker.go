// Package worker runs the job-processing daemon: it holds the single-instance
// lock, polls the queue, and hands each claimed job to the pipeline.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"scribepipe/internal/job"
	"scribepipe/internal/logger"
	"scribepipe/internal/pipeline"
	"scribepipe/internal/progress"
)

// Worker polls the store for pending jobs and processes them one at a time.
// Provider rate limits make per-job concurrency counterproductive; throughput
// comes from the enrichment fan-out inside each job.
type Worker struct {
	store        *job.Store
	pipe         *pipeline.Pipeline
	watchdog     *progress.Watchdog
	lockPath     string
	pollInterval time.Duration
	lock         *flock.Flock
	log          *logger.Logger
}

// Options configures the worker loop.
type Options struct {
	LockPath     string
	PollInterval time.Duration
}

// New builds a worker.
func New(store *job.Store, pipe *pipeline.Pipeline, watchdog *progress.Watchdog, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Worker{
		store:        store,
		pipe:         pipe,
		watchdog:     watchdog,
		lockPath:     opts.LockPath,
		pollInterval: opts.PollInterval,
		log:          logger.New(),
	}
}

// Run acquires the instance lock and processes jobs until the context is
// cancelled. A second instance against the same lock file fails fast.
func (w *Worker) Run(ctx context.Context) error {
	log := w.log.WithComponent("worker")

	if err := w.acquireLock(); err != nil {
		return err
	}
	defer w.releaseLock()

	if w.watchdog != nil {
		go w.watchdog.Run(ctx)
	}

	log.WithField("poll_interval", w.pollInterval.String()).Info("worker started")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-ticker.C:
			w.drainQueue(ctx)
		}
	}
}

// drainQueue claims and processes jobs until the queue is empty or the
// context is cancelled.
func (w *Worker) drainQueue(ctx context.Context) {
	log := w.log.WithComponent("worker")
	for {
		if ctx.Err() != nil {
			return
		}
		j, err := w.store.ClaimNextPending(ctx)
		if err != nil {
			log.WithError(err).Warn("claiming next job failed")
			return
		}
		if j == nil {
			return
		}
		// Process handles its own failure bookkeeping; the error here is
		// only for the loop's log line.
		if err := w.pipe.Process(ctx, j); err != nil {
			log.WithJob(j.ID, j.UserID).WithError(err).Warn("job did not complete")
		}
	}
}

func (w *Worker) acquireLock() error {
	if w.lockPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	w.lock = flock.New(w.lockPath)
	held, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !held {
		return fmt.Errorf("another instance holds %s", w.lockPath)
	}
	return nil
}

func (w *Worker) releaseLock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Unlock(); err != nil {
		w.log.WithComponent("worker").WithError(err).Warn("releasing instance lock failed")
	}
}
