package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SpeechmaticsClient covers languages the Whisper-class gateway handles
// poorly (Basque, Galician).
type SpeechmaticsClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
}

// SpeechmaticsOptions configures the adapter.
type SpeechmaticsOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// NewSpeechmatics builds the limited-coverage-language adapter.
func NewSpeechmatics(opts SpeechmaticsOptions) *SpeechmaticsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://asr.api.speechmatics.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 200
	}
	return &SpeechmaticsClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

func (c *SpeechmaticsClient) Name() string { return "speechmatics" }

type speechmaticsJob struct {
	ID  string `json:"id"`
	Job struct {
		ID string `json:"id"`
	} `json:"job"`
	Status string `json:"status"` // running, done, rejected
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

type speechmaticsTranscript struct {
	Job struct {
		Duration float64 `json:"duration"`
	} `json:"job"`
	Results []struct {
		Type         string  `json:"type"` // word, punctuation
		StartTime    float64 `json:"start_time"`
		EndTime      float64 `json:"end_time"`
		Alternatives []struct {
			Content string `json:"content"`
			Speaker string `json:"speaker"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe creates a batch job against the source URL, waits for it and
// folds the word-level results into speaker utterances.
func (c *SpeechmaticsClient) Transcribe(ctx context.Context, sourceURL, language string) (*Result, error) {
	cfg := map[string]any{
		"type": "transcription",
		"transcription_config": map[string]any{
			"language":    language,
			"diarization": "speaker",
		},
		"fetch_data": map[string]any{"url": sourceURL},
	}
	body, _ := json.Marshal(cfg)

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	var created speechmaticsJob
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/v2/jobs", headers, body, &created); err != nil {
		return nil, providerErr(c.Name(), err)
	}
	jobID := created.ID
	if jobID == "" {
		jobID = created.Job.ID
	}
	if jobID == "" {
		return nil, providerErr(c.Name(), fmt.Errorf("create job returned no id"))
	}

	if err := c.waitForJob(ctx, jobID, headers); err != nil {
		return nil, providerErr(c.Name(), err)
	}

	var transcript speechmaticsTranscript
	url := c.baseURL + "/v2/jobs/" + jobID + "/transcript?format=json-v2"
	if err := doJSON(ctx, c.httpClient, http.MethodGet, url, headers, nil, &transcript); err != nil {
		return nil, providerErr(c.Name(), err)
	}
	return c.normalize(&transcript)
}

func (c *SpeechmaticsClient) waitForJob(ctx context.Context, jobID string, headers map[string]string) error {
	url := c.baseURL + "/v2/jobs/" + jobID
	for i := 0; i < c.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var j speechmaticsJob
		if err := doJSON(ctx, c.httpClient, http.MethodGet, url, headers, nil, &j); err != nil {
			continue
		}
		switch j.Status {
		case "done":
			return nil
		case "rejected":
			msg := "job rejected"
			if len(j.Errors) > 0 {
				msg = j.Errors[0].Message
			}
			return fmt.Errorf("transcription failed: %s", msg)
		}
	}
	return fmt.Errorf("transcription timeout after %d polls", c.pollAttempts)
}

// normalize groups word-level results by speaker continuity. Punctuation
// attaches to the preceding word without a separating space.
func (c *SpeechmaticsClient) normalize(t *speechmaticsTranscript) (*Result, error) {
	res := &Result{DurationSeconds: t.Job.Duration}

	var (
		current *Utterance
		builder strings.Builder
	)
	flush := func() {
		if current != nil {
			current.Text = builder.String()
			res.Utterances = append(res.Utterances, *current)
			current = nil
			builder.Reset()
		}
	}
	for _, item := range t.Results {
		if len(item.Alternatives) == 0 {
			continue
		}
		alt := item.Alternatives[0]
		if item.Type == "punctuation" {
			if current != nil {
				builder.WriteString(alt.Content)
				current.EndMS = int64(item.EndTime * 1000)
			}
			continue
		}
		if current == nil || alt.Speaker != current.Speaker {
			flush()
			current = &Utterance{
				Speaker: alt.Speaker,
				StartMS: int64(item.StartTime * 1000),
			}
		} else {
			builder.WriteString(" ")
		}
		builder.WriteString(alt.Content)
		current.EndMS = int64(item.EndTime * 1000)
	}
	flush()
	return finish(res)
}
