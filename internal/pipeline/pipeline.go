// Package pipeline drives one claimed job through its full lifecycle:
// source validation, quota admission, backend selection, transcription or
// extraction, enrichment, artifact generation, usage commit and cleanup.
package pipeline

import (
	"context"
	"fmt"

	"scribepipe/internal/artifacts"
	"scribepipe/internal/enrich"
	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/logger"
	"scribepipe/internal/provider"
	"scribepipe/internal/quota"
	"scribepipe/internal/selector"
	"scribepipe/internal/storage"
)

// Pipeline processes claimed jobs. It owns no goroutines of its own; the
// worker calls Process once per claimed job.
type Pipeline struct {
	store     *job.Store
	quota     *quota.Guard
	blobs     *storage.Client
	executor  *provider.Executor
	enricher  *enrich.Orchestrator
	artifacts *artifacts.Generator
	tracker   *errtrack.Tracker
	rules     selector.Rules
	log       *logger.Logger
}

// New wires the pipeline stages together.
func New(
	store *job.Store,
	guard *quota.Guard,
	blobs *storage.Client,
	executor *provider.Executor,
	enricher *enrich.Orchestrator,
	generator *artifacts.Generator,
	tracker *errtrack.Tracker,
	rules selector.Rules,
) *Pipeline {
	return &Pipeline{
		store:     store,
		quota:     guard,
		blobs:     blobs,
		executor:  executor,
		enricher:  enricher,
		artifacts: generator,
		tracker:   tracker,
		rules:     rules,
		log:       logger.New(),
	}
}

// Process runs a job that has already been claimed into processing. The
// returned error is nil on success; on failure the job has been either
// re-enqueued for retry or marked failed before Process returns.
func (p *Pipeline) Process(ctx context.Context, j *job.Job) error {
	log := p.log.WithComponent("pipeline").WithJob(j.ID, j.UserID)
	log.WithField("kind", string(j.ContentKind)).
		WithField("retry", j.RetryCount).
		Info("processing job")

	p.touch(ctx, j.ID, "validating source")
	size, err := p.blobs.ValidateSource(ctx, j.SourceURL)
	if err != nil {
		return p.fail(ctx, j, err)
	}

	if err := p.quota.Admit(ctx, j.UserID, j.ContentKind); err != nil {
		return p.fail(ctx, j, err)
	}

	backend := selector.Select(j.ContentKind, j.Language, size, p.rules)
	j.Metadata.Provider = string(backend)
	j.Metadata.AddTrace("source_bytes", fmt.Sprintf("%d", size))
	log.WithField("backend", string(backend)).Info("backend selected")

	p.touch(ctx, j.ID, "transcribing")
	res, err := p.transcribe(ctx, j, backend)
	if err != nil {
		return p.fail(ctx, j, err)
	}
	if j.ContentKind == job.KindAudio {
		j.AudioDurationSeconds = res.DurationSeconds
	}

	if ok, err := p.store.Transition(ctx, j.ID, job.StatusProcessing, job.StatusTranscribed); err != nil {
		return p.fail(ctx, j, err)
	} else if !ok {
		// The watchdog force-failed the job while the provider call ran.
		log.Warn("job left processing externally, abandoning")
		return fmt.Errorf("job %s no longer processing", j.ID)
	}
	j.Status = job.StatusTranscribed
	if err := p.store.Update(ctx, j); err != nil {
		return p.fail(ctx, j, err)
	}

	p.touch(ctx, j.ID, "enriching")
	outcome := p.enricher.Enrich(ctx, j.ID, j.UserID, enrich.Request{
		Transcript:   res.Text,
		Utterances:   res.Utterances,
		Language:     j.Language,
		SummaryStyle: j.SummaryStyle,
		WantSpeakers: j.Wants(job.ActionSpeakers) && len(res.Utterances) > 0,
		WantSummary:  j.Wants(job.ActionSummarize),
		WantTags:     j.Wants(job.ActionTags),
	})
	if len(outcome.Tags) > 0 {
		j.Tags = outcome.Tags
	}

	if outcome.Summary != "" {
		if ok, err := p.store.Transition(ctx, j.ID, job.StatusTranscribed, job.StatusSummarized); err != nil {
			return p.fail(ctx, j, err)
		} else if ok {
			j.Status = job.StatusSummarized
		}
	}

	p.touch(ctx, j.ID, "generating artifacts")
	if err := p.artifacts.Generate(ctx, j, res, outcome); err != nil {
		// Generate only errors when the transcript artifact itself failed;
		// without it the job has nothing to deliver.
		return p.fail(ctx, j, err)
	}
	if err := p.store.Update(ctx, j); err != nil {
		return p.fail(ctx, j, err)
	}

	if ok, err := p.store.Transition(ctx, j.ID, j.Status, job.StatusCompleted); err != nil {
		return p.fail(ctx, j, err)
	} else if !ok {
		log.Warn("job left its expected status before completion")
		return fmt.Errorf("job %s could not complete", j.ID)
	}
	j.Status = job.StatusCompleted

	// Usage counts only jobs that reached completed.
	if err := p.quota.Commit(ctx, j.UserID, j.ContentKind, j.AudioDurationSeconds/60); err != nil {
		p.tracker.Capture(j.ID, j.UserID, err)
		log.WithError(err).Warn("usage commit failed")
	}

	p.cleanupSource(ctx, j)

	log.WithField("degraded", len(j.Metadata.Degraded)).Info("job completed")
	return nil
}

// transcribe routes the job to the provider executor, or runs local document
// extraction for document jobs. Both paths return the normalized result.
func (p *Pipeline) transcribe(ctx context.Context, j *job.Job, backend selector.Backend) (*provider.Result, error) {
	if backend != selector.BackendDocExtract {
		return p.executor.Transcribe(ctx, backend, j.SourceURL, j.Language)
	}

	data, err := p.blobs.Fetch(ctx, j.SourceURL)
	if err != nil {
		return nil, err
	}
	doc, err := provider.ExtractDocument(j.Filename, data, func(pages int) error {
		return p.quota.CheckPDFPages(ctx, j.UserID, pages)
	})
	if err != nil {
		return nil, err
	}
	j.Metadata.PageCount = doc.PageCount
	return &provider.Result{Text: doc.Text}, nil
}

// fail routes a pipeline error through the tracker and either re-enqueues
// the job for another attempt or marks it failed.
func (p *Pipeline) fail(ctx context.Context, j *job.Job, cause error) error {
	kind, _ := p.tracker.Capture(j.ID, j.UserID, cause)
	log := p.log.WithComponent("pipeline").WithJob(j.ID, j.UserID).WithField("kind", string(kind))

	if kind.IsRetryable() && j.CanRetry() {
		requeued, err := p.store.RequeueForRetry(ctx, j.ID, cause.Error())
		if err != nil {
			log.WithError(err).Warn("requeue failed")
		} else if requeued {
			log.WithField("retry", j.RetryCount+1).Info("job re-enqueued for retry")
			return cause
		}
	}

	if _, err := p.store.ForceFail(ctx, j.ID, cause.Error()); err != nil {
		log.WithError(err).Warn("marking job failed failed")
	}
	return cause
}

// cleanupSource deletes the original upload after the terminal write. A
// deletion failure is logged and never reverts the job's status.
func (p *Pipeline) cleanupSource(ctx context.Context, j *job.Job) {
	if j.SourceURL == "" {
		return
	}
	log := p.log.WithComponent("pipeline").WithJob(j.ID, j.UserID)
	if err := p.blobs.DeleteSource(ctx, j.SourceURL); err != nil {
		log.WithError(err).Warn("source cleanup failed")
		return
	}
	if err := p.store.ClearSource(ctx, j.ID); err != nil {
		log.WithError(err).Warn("clearing source url failed")
		return
	}
	j.SourceURL = ""
	log.Debug("source cleaned up")
}

func (p *Pipeline) touch(ctx context.Context, id, stage string) {
	if err := p.store.TouchProgress(ctx, id, stage); err != nil {
		p.log.WithComponent("pipeline").WithError(err).Warn("progress touch failed")
	}
}
