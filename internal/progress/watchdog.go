package progress

import (
	"context"
	"fmt"
	"time"

	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/logger"
)

// Watchdog periodically scans all non-terminal jobs and acts on the ones
// whose progress has stalled: past the warning threshold they are flagged,
// past the critical threshold they are force-failed regardless of what their
// execution thread believes it is doing.
type Watchdog struct {
	store    *job.Store
	tracker  *errtrack.Tracker
	interval time.Duration
	warn     time.Duration
	critical time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// WatchdogOptions tunes the scan cadence and thresholds.
type WatchdogOptions struct {
	Interval time.Duration
	Warn     time.Duration
	Critical time.Duration
	Now      func() time.Time
}

// NewWatchdog builds the watchdog over the shared job store.
func NewWatchdog(store *job.Store, tracker *errtrack.Tracker, opts WatchdogOptions) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Warn <= 0 {
		opts.Warn = 5 * time.Minute
	}
	if opts.Critical <= opts.Warn {
		opts.Critical = opts.Warn * 6
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watchdog{
		store:    store,
		tracker:  tracker,
		interval: opts.Interval,
		warn:     opts.Warn,
		critical: opts.Critical,
		now:      opts.Now,
		log:      logger.New(),
	}
}

// Run scans on a fixed interval until the context is cancelled. The cadence
// is independent of any individual job's lifecycle.
func (w *Watchdog) Run(ctx context.Context) {
	log := w.log.WithComponent("watchdog")
	log.WithField("interval", w.interval.String()).Info("watchdog started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return
		case <-ticker.C:
			if _, _, err := w.Scan(ctx); err != nil {
				log.WithError(err).Warn("watchdog scan failed")
			}
		}
	}
}

// Scan walks the non-terminal jobs once and returns how many were flagged
// and how many were force-failed. Jobs that complete or disappear between
// the read and the write are skipped silently.
func (w *Watchdog) Scan(ctx context.Context) (flagged, failed int, err error) {
	jobs, err := w.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list non-terminal jobs: %w", err)
	}
	now := w.now()
	log := w.log.WithComponent("watchdog")

	for _, j := range jobs {
		idle := now.Sub(lastActivity(j))
		switch {
		case idle > w.critical:
			stuckErr := fmt.Errorf("%w: no progress for %s in stage %q", errtrack.ErrStuck, idle.Round(time.Second), j.ProgressStage)
			changed, ffErr := w.store.ForceFail(ctx, j.ID, stuckErr.Error())
			if ffErr != nil {
				log.WithError(ffErr).WithField("job_id", j.ID).Warn("force fail failed")
				continue
			}
			if !changed {
				// Reached a terminal state on its own since the read.
				continue
			}
			failed++
			w.tracker.Capture(j.ID, j.UserID, stuckErr)
		case idle > w.warn:
			flagged++
			log.WithJob(j.ID, j.UserID).
				WithField("idle", idle.Round(time.Second).String()).
				WithField("stage", j.ProgressStage).
				Warn("job progress stalled")
		}
	}
	return flagged, failed, nil
}

func lastActivity(j *job.Job) time.Time {
	if j.LastProgressAt != nil {
		return *j.LastProgressAt
	}
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return j.CreatedAt
}
