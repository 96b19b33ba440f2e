package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// TTSClient renders narrated audio from text through a speech synthesis
// endpoint.
type TTSClient struct {
	url           string
	apiKey        string
	voice         string
	maxInputChars int
	httpClient    *http.Client
}

// TTSOptions configures the synthesis endpoint.
type TTSOptions struct {
	URL           string
	APIKey        string
	Voice         string
	MaxInputChars int
	Timeout       time.Duration
}

// NewTTSClient builds the narration client.
func NewTTSClient(opts TTSOptions) *TTSClient {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 4096
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &TTSClient{
		url:           opts.URL,
		apiKey:        opts.APIKey,
		voice:         opts.Voice,
		maxInputChars: opts.MaxInputChars,
		httpClient:    &http.Client{Timeout: opts.Timeout},
	}
}

// Synthesize narrates the text, truncating the input at the provider's
// length limit on a word boundary.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.url == "" {
		return nil, fmt.Errorf("tts endpoint not configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("nothing to narrate")
	}
	text = truncateAtWord(text, c.maxInputChars)

	payload, _ := json.Marshal(map[string]string{
		"input": text,
		"voice": c.voice,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tts rejected: status %d: %s", resp.StatusCode, string(body))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}
	return audio, nil
}

func truncateAtWord(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if idx := strings.LastIndexByte(text[:limit], ' '); idx > 0 {
		return text[:idx]
	}
	// No space to break on: back off to a rune boundary.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
