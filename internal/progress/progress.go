// Package progress derives a display percentage for in-flight jobs and runs
// the watchdog that detects and terminates stuck ones.
package progress

import (
	"time"

	"scribepipe/internal/job"
)

// fallbackExpectedSeconds stands in for the processing-time estimate while
// the audio duration is still unknown.
const fallbackExpectedSeconds = 150

// Estimator maps a job onto a 0-100 progress value. The output is a display
// heuristic: monotonic non-decreasing until completion, never authoritative.
type Estimator struct {
	// SpeedFactor scales audio duration into expected processing time.
	SpeedFactor float64
}

// Estimate returns the current progress percentage. Pre-flight occupies
// 0-20, transcription interpolates 20-85 from elapsed wall-clock time and is
// capped below 90 until the terminal write, enrichment and artifacts occupy
// 85-98, and 100 is reserved for successful completion.
func (e Estimator) Estimate(j *job.Job, now time.Time) int {
	switch j.Status {
	case job.StatusPending:
		return 5
	case job.StatusProcessing:
		return e.transcribing(j, now)
	case job.StatusTranscribed:
		return 88
	case job.StatusSummarized:
		return 95
	case job.StatusCompleted:
		return 100
	case job.StatusFailed:
		return 0
	default:
		return 0
	}
}

func (e Estimator) transcribing(j *job.Job, now time.Time) int {
	if j.StartedAt == nil {
		return 20
	}
	factor := e.SpeedFactor
	if factor <= 0 {
		factor = 0.5
	}
	expected := j.AudioDurationSeconds * factor
	if expected <= 0 {
		expected = fallbackExpectedSeconds
	}
	elapsed := now.Sub(*j.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	frac := elapsed / expected
	if frac > 1 {
		frac = 1
	}
	pct := 20 + int(frac*65)
	if pct > 85 {
		pct = 85
	}
	return pct
}
