package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AssemblyAIClient handles large files the low-latency gateway rejects.
type AssemblyAIClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
}

// AssemblyAIOptions configures the adapter.
type AssemblyAIOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// NewAssemblyAI builds the bulk transcription adapter.
func NewAssemblyAI(opts AssemblyAIOptions) *AssemblyAIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.assemblyai.com"
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
	return &AssemblyAIClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

func (c *AssemblyAIClient) Name() string { return "assemblyai" }

type assemblyTranscript struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"` // queued, processing, completed, error
	Text          string  `json:"text"`
	AudioDuration float64 `json:"audio_duration"`
	Error         string  `json:"error,omitempty"`
	Utterances    []struct {
		Speaker string `json:"speaker"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
		Text    string `json:"text"`
	} `json:"utterances"`
	Words []struct {
		Speaker string `json:"speaker"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
		Text    string `json:"text"`
	} `json:"words"`
}

// Transcribe submits the audio URL and polls the transcript resource.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, sourceURL, language string) (*Result, error) {
	payload := map[string]any{
		"audio_url":      sourceURL,
		"speaker_labels": true,
	}
	if language != "" && language != "auto" {
		payload["language_code"] = language
	}
	body, _ := json.Marshal(payload)

	headers := map[string]string{
		"Authorization": c.apiKey,
		"Content-Type":  "application/json",
	}

	var created assemblyTranscript
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/v2/transcript", headers, body, &created); err != nil {
		return nil, providerErr(c.Name(), err)
	}
	if created.ID == "" {
		return nil, providerErr(c.Name(), fmt.Errorf("submit returned no transcript id"))
	}

	final, err := c.poll(ctx, created.ID, headers)
	if err != nil {
		return nil, providerErr(c.Name(), err)
	}
	return c.normalize(final)
}

func (c *AssemblyAIClient) poll(ctx context.Context, id string, headers map[string]string) (*assemblyTranscript, error) {
	url := c.baseURL + "/v2/transcript/" + id
	for i := 0; i < c.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var t assemblyTranscript
		if err := doJSON(ctx, c.httpClient, http.MethodGet, url, headers, nil, &t); err != nil {
			continue
		}
		switch t.Status {
		case "completed":
			return &t, nil
		case "error":
			return nil, fmt.Errorf("transcription failed: %s", t.Error)
		}
	}
	return nil, fmt.Errorf("transcription timeout after %d polls", c.pollAttempts)
}

// normalize folds either the utterance list or, when diarization returned
// only word-level timestamps, consecutive same-speaker words.
func (c *AssemblyAIClient) normalize(t *assemblyTranscript) (*Result, error) {
	res := &Result{Text: t.Text, DurationSeconds: t.AudioDuration}

	if len(t.Utterances) > 0 {
		for _, u := range t.Utterances {
			res.Utterances = append(res.Utterances, Utterance{
				Speaker: u.Speaker,
				StartMS: u.Start,
				EndMS:   u.End,
				Text:    u.Text,
			})
		}
		return finish(res)
	}

	var current *Utterance
	var words []string
	flush := func() {
		if current != nil {
			current.Text = strings.Join(words, " ")
			res.Utterances = append(res.Utterances, *current)
			current = nil
			words = nil
		}
	}
	for _, w := range t.Words {
		if current == nil || w.Speaker != current.Speaker {
			flush()
			current = &Utterance{Speaker: w.Speaker, StartMS: w.Start, EndMS: w.End}
		}
		current.EndMS = w.End
		words = append(words, w.Text)
	}
	flush()
	return finish(res)
}
