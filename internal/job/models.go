package job

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a processing job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusSummarized  Status = "summarized"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// ContentKind distinguishes audio jobs from document jobs.
type ContentKind string

const (
	KindAudio    ContentKind = "audio"
	KindDocument ContentKind = "document"
)

// Action is one user-requested processing step.
type Action string

const (
	ActionTranscribe   Action = "transcribe"
	ActionSpeakers     Action = "speakers"
	ActionSummarize    Action = "summarize"
	ActionSubtitles    Action = "subtitles"
	ActionTags         Action = "tags"
	ActionNarrateAudio Action = "narrate_audio"
)

// SummaryStyle selects between the short and detailed summary prompts.
type SummaryStyle string

const (
	SummaryShort    SummaryStyle = "short"
	SummaryDetailed SummaryStyle = "detailed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusTranscribed,
	StatusSummarized,
	StatusCompleted,
	StatusFailed,
}

// transitions holds the allowed forward moves. failed -> pending exists only
// for bounded retry re-enqueueing; every other backward move is rejected.
var transitions = map[Status][]Status{
	StatusPending:     {StatusProcessing, StatusFailed},
	StatusProcessing:  {StatusTranscribed, StatusSummarized, StatusFailed},
	StatusTranscribed: {StatusSummarized, StatusCompleted, StatusFailed},
	StatusSummarized:  {StatusCompleted, StatusFailed},
	StatusCompleted:   {},
	StatusFailed:      {StatusPending},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the job lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// Artifacts holds the output URLs, each written at most once.
type Artifacts struct {
	TranscriptURL  string `json:"transcript_url,omitempty"`
	SRTURL         string `json:"srt_url,omitempty"`
	VTTURL         string `json:"vtt_url,omitempty"`
	SummaryURL     string `json:"summary_url,omitempty"`
	SpeakersURL    string `json:"speakers_url,omitempty"`
	SpreadsheetURL string `json:"spreadsheet_url,omitempty"`
	PDFURL         string `json:"pdf_url,omitempty"`
	NarrationURL   string `json:"narration_url,omitempty"`
}

// Job is the persisted record for one processing request.
type Job struct {
	ID                   string
	UserID               string
	ContentKind          ContentKind
	Filename             string
	SourceURL            string
	Language             string
	RequestedActions     []Action
	SummaryStyle         SummaryStyle
	Status               Status
	RetryCount           int
	MaxRetries           int
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	Artifacts            Artifacts
	Tags                 []string
	AudioDurationSeconds float64
	ErrorMessage         string
	Metadata             Metadata
	LastProgressAt       *time.Time
	ProgressStage        string
}

// Wants reports whether the job requested a given action.
func (j *Job) Wants(action Action) bool {
	for _, a := range j.RequestedActions {
		if a == action {
			return true
		}
	}
	return false
}

// CanRetry reports whether the job may be re-enqueued after a provider failure.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
