package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WhisperClient talks to a Whisper-class transcription gateway using a
// publish / poll / download sequence.
type WhisperClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
}

// WhisperOptions configures the gateway client.
type WhisperOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// NewWhisper builds the Whisper-class adapter.
func NewWhisper(opts WhisperOptions) *WhisperClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1500 * time.Millisecond
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 40
	}
	return &WhisperClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
	}
}

func (c *WhisperClient) Name() string { return "whisper" }

type whisperPublishResponse struct {
	MediaID   string `json:"media_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type whisperStatusResponse struct {
	Status    string `json:"status"` // queued, processing, success, failed
	ResultURL string `json:"result_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type whisperResult struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
	} `json:"segments"`
}

// Transcribe publishes the source URL, polls until the gateway finishes and
// downloads the segment JSON.
func (c *WhisperClient) Transcribe(ctx context.Context, sourceURL, language string) (*Result, error) {
	if c.baseURL == "" {
		return nil, providerErr(c.Name(), fmt.Errorf("gateway URL not configured"))
	}

	mediaID, resultURL, err := c.publish(ctx, sourceURL, language)
	if err != nil {
		return nil, providerErr(c.Name(), err)
	}
	if resultURL == "" {
		resultURL, err = c.poll(ctx, mediaID)
		if err != nil {
			return nil, providerErr(c.Name(), err)
		}
	}

	raw, err := downloadText(ctx, c.httpClient, resultURL)
	if err != nil {
		return nil, providerErr(c.Name(), err)
	}
	var parsed whisperResult
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, providerErr(c.Name(), fmt.Errorf("decode result: %w", err))
	}

	res := &Result{Text: parsed.Text, DurationSeconds: parsed.Duration}
	for _, seg := range parsed.Segments {
		res.Utterances = append(res.Utterances, Utterance{
			Speaker: seg.Speaker,
			StartMS: int64(seg.Start * 1000),
			EndMS:   int64(seg.End * 1000),
			Text:    seg.Text,
		})
	}
	return finish(res)
}

func (c *WhisperClient) publish(ctx context.Context, sourceURL, language string) (string, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	_ = w.WriteField("file_url", sourceURL)
	if language != "" && language != "auto" {
		_ = w.WriteField("language", language)
	}
	_ = w.WriteField("diarize", "true")
	_ = w.Close()

	headers := map[string]string{"Content-Type": w.FormDataContentType()}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp whisperPublishResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/transcribe", headers, b.Bytes(), &resp); err != nil {
		return "", "", err
	}
	if strings.EqualFold(resp.Status, "failed") {
		return "", "", fmt.Errorf("publish rejected: %s", resp.Reason)
	}
	if resp.ResultURL != "" && strings.EqualFold(resp.Status, "success") {
		return "", resp.ResultURL, nil
	}
	if resp.MediaID == "" {
		return "", "", fmt.Errorf("publish returned no media id")
	}
	return resp.MediaID, "", nil
}

func (c *WhisperClient) poll(ctx context.Context, mediaID string) (string, error) {
	base := c.baseURL + "/getstatus"
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	for i := 0; i < c.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		u, _ := url.Parse(base)
		q := u.Query()
		q.Set("mediaId", mediaID)
		u.RawQuery = q.Encode()

		var s whisperStatusResponse
		if err := doJSON(ctx, c.httpClient, http.MethodGet, u.String(), headers, nil, &s); err != nil {
			continue
		}
		switch strings.ToLower(s.Status) {
		case "success":
			return s.ResultURL, nil
		case "queued", "processing":
			continue
		case "failed":
			return "", fmt.Errorf("transcription failed: %s", s.Reason)
		}
	}
	return "", fmt.Errorf("transcription timeout after %d polls", c.pollAttempts)
}
