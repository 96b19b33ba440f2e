// Package artifacts renders and uploads the derived outputs of a processed
// job: transcript text, subtitles, speaker report, spreadsheet, PDF and
// narrated audio.
package artifacts

import (
	"context"
	"fmt"

	"scribepipe/internal/breaker"
	"scribepipe/internal/enrich"
	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/logger"
	"scribepipe/internal/provider"
	"scribepipe/internal/storage"
)

// Generator renders the requested artifacts and records their blob URLs on
// the job. Failures of individual artifacts are non-fatal: the URL stays
// empty and the job still completes.
type Generator struct {
	blobs    *storage.Client
	tts      *TTSClient
	breakers *breaker.Registry
	tracker  *errtrack.Tracker
	log      *logger.Logger
}

// NewGenerator wires the artifact stage.
func NewGenerator(blobs *storage.Client, tts *TTSClient, breakers *breaker.Registry, tracker *errtrack.Tracker) *Generator {
	return &Generator{
		blobs:    blobs,
		tts:      tts,
		breakers: breakers,
		tracker:  tracker,
		log:      logger.New(),
	}
}

// Generate renders every artifact the job's requested actions call for.
// The returned error is nil unless even the transcript artifact could not be
// produced.
func (g *Generator) Generate(ctx context.Context, j *job.Job, res *provider.Result, outcome enrich.Outcome) error {
	log := g.log.WithComponent("artifacts").WithJob(j.ID, j.UserID)
	stats := AggregateSpeakers(res.Utterances, outcome.Speakers)

	// Transcript text is the one artifact every job carries.
	if url, err := g.blobs.Put(j.ID, "transcript.txt", []byte(res.Text)); err != nil {
		g.degrade(j, "transcript", err)
		return fmt.Errorf("%w: transcript: %v", errtrack.ErrArtifact, err)
	} else {
		j.Artifacts.TranscriptURL = url
	}

	if j.Wants(job.ActionSubtitles) && len(res.Utterances) > 0 {
		srt := BuildSRT(res.Utterances)
		if url, err := g.blobs.Put(j.ID, "subtitles.srt", []byte(srt)); err != nil {
			g.degrade(j, "srt", err)
		} else {
			j.Artifacts.SRTURL = url
		}
		if url, err := g.blobs.Put(j.ID, "subtitles.vtt", []byte(BuildVTT(srt))); err != nil {
			g.degrade(j, "vtt", err)
		} else {
			j.Artifacts.VTTURL = url
		}
	}

	if outcome.Summary != "" {
		if url, err := g.blobs.Put(j.ID, "summary.txt", []byte(outcome.Summary)); err != nil {
			g.degrade(j, "summary", err)
		} else {
			j.Artifacts.SummaryURL = url
		}
	}

	if j.Wants(job.ActionSpeakers) && len(stats) > 0 {
		report := RenderSpeakerReport(stats, res.Utterances, j.SummaryStyle == job.SummaryDetailed)
		if url, err := g.blobs.Put(j.ID, "speakers.txt", []byte(report)); err != nil {
			g.degrade(j, "speakers", err)
		} else {
			j.Artifacts.SpeakersURL = url
		}
	}

	if data, err := BuildSpreadsheet(j, res, outcome.Summary, stats); err != nil {
		g.degrade(j, "spreadsheet", err)
	} else if url, err := g.blobs.Put(j.ID, "report.xlsx", data); err != nil {
		g.degrade(j, "spreadsheet", err)
	} else {
		j.Artifacts.SpreadsheetURL = url
	}

	if data, err := BuildPDF(j, res, outcome.Summary, stats); err != nil {
		g.degrade(j, "pdf", err)
	} else if url, err := g.blobs.Put(j.ID, "report.pdf", data); err != nil {
		g.degrade(j, "pdf", err)
	} else {
		j.Artifacts.PDFURL = url
	}

	if j.Wants(job.ActionNarrateAudio) {
		g.narrate(ctx, j, res, outcome)
	}

	log.WithField("degraded", len(j.Metadata.Degraded)).Info("artifact generation finished")
	return nil
}

// narrate renders TTS audio of the summary, falling back to the transcript
// when no summary exists. The synthesis call runs through the tts breaker.
func (g *Generator) narrate(ctx context.Context, j *job.Job, res *provider.Result, outcome enrich.Outcome) {
	text := outcome.Summary
	if text == "" {
		text = res.Text
	}
	var audio []byte
	err := g.breakers.Get("tts").Do(ctx, func(ctx context.Context) error {
		var synthErr error
		audio, synthErr = g.tts.Synthesize(ctx, text)
		return synthErr
	})
	if err != nil {
		g.degrade(j, "narration", err)
		return
	}
	url, err := g.blobs.Put(j.ID, "narration.mp3", audio)
	if err != nil {
		g.degrade(j, "narration", err)
		return
	}
	j.Artifacts.NarrationURL = url
}

func (g *Generator) degrade(j *job.Job, step string, err error) {
	j.Metadata.MarkDegraded(step)
	g.tracker.Capture(j.ID, j.UserID, fmt.Errorf("%w: %s: %v", errtrack.ErrArtifact, step, err))
}
