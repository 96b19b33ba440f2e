// Package provider contains the speech-to-text backends and the executor
// that normalizes their heterogeneous responses into one result shape.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrEmptyTranscript marks a provider response with no usable text. Treated
// as an extraction failure, never as a valid empty result.
var ErrEmptyTranscript = errors.New("empty transcript")

// ErrProvider wraps remote backend failures so the pipeline can classify
// them as retryable.
var ErrProvider = errors.New("provider error")

// Utterance is one continuous speech segment attributed to a single speaker.
type Utterance struct {
	Speaker string `json:"speaker"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Result is the normalized transcription output all backends reduce to.
type Result struct {
	Text            string      `json:"text"`
	DurationSeconds float64     `json:"duration_seconds"`
	Utterances      []Utterance `json:"utterances"`
}

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, sourceURL, language string) (*Result, error)
}

// finish validates and tidies a normalized result before it leaves an
// adapter. Rebuilds Text from utterances when the provider only returned
// segment text.
func finish(res *Result) (*Result, error) {
	if res == nil {
		return nil, ErrEmptyTranscript
	}
	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" && len(res.Utterances) > 0 {
		parts := make([]string, 0, len(res.Utterances))
		for _, u := range res.Utterances {
			if t := strings.TrimSpace(u.Text); t != "" {
				parts = append(parts, t)
			}
		}
		res.Text = strings.Join(parts, " ")
	}
	if res.Text == "" {
		return nil, ErrEmptyTranscript
	}
	if res.DurationSeconds == 0 && len(res.Utterances) > 0 {
		res.DurationSeconds = float64(res.Utterances[len(res.Utterances)-1].EndMS) / 1000
	}
	for i := range res.Utterances {
		res.Utterances[i].Speaker = NormalizeSpeakerLabel(res.Utterances[i].Speaker)
		res.Utterances[i].Text = strings.TrimSpace(res.Utterances[i].Text)
	}
	return res, nil
}

// NormalizeSpeakerLabel maps the diarization label formats used by the
// different backends ("A", "S1", "0", "speaker_2") onto SPEAKER_<n> form.
func NormalizeSpeakerLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "SPEAKER_0"
	}
	upper := strings.ToUpper(label)
	if strings.HasPrefix(upper, "SPEAKER_") {
		return upper
	}
	trimmed := strings.TrimPrefix(upper, "S")
	if trimmed != "" && isDigits(trimmed) {
		return "SPEAKER_" + trimmed
	}
	if len(upper) == 1 && upper[0] >= 'A' && upper[0] <= 'Z' {
		return "SPEAKER_" + upper
	}
	return upper
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func providerErr(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProvider, name, err)
}
