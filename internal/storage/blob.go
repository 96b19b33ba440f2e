// Package storage moves bytes between the pipeline and blob locations: it
// reads job sources, writes artifacts and owns source deletion after
// completion.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrBadSource marks an invalid or unreachable source URL. Jobs failing this
// pre-check are never sent to a provider.
var ErrBadSource = errors.New("invalid source")

// Client accesses source blobs over HTTP or the local filesystem and writes
// artifacts under a content directory.
type Client struct {
	artifactDir string
	httpClient  *http.Client
}

// NewClient builds a blob client rooted at artifactDir.
func NewClient(artifactDir string) *Client {
	return &Client{
		artifactDir: artifactDir,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ValidateSource checks the source URL shape and reachability without
// downloading the payload. Returns the size in bytes when the server
// reports one.
func (c *Client) ValidateSource(ctx context.Context, rawURL string) (int64, error) {
	if strings.TrimSpace(rawURL) == "" {
		return 0, fmt.Errorf("%w: empty URL", ErrBadSource)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSource, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("%w: unreachable: %v", ErrBadSource, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return 0, fmt.Errorf("%w: status %d", ErrBadSource, resp.StatusCode)
		}
		return resp.ContentLength, nil
	case "file", "":
		info, err := os.Stat(localPath(u, rawURL))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSource, err)
		}
		return info.Size(), nil
	default:
		return 0, fmt.Errorf("%w: unsupported scheme %q", ErrBadSource, u.Scheme)
	}
}

// Fetch downloads the full source payload.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch source: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	case "file", "":
		return os.ReadFile(localPath(u, rawURL))
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadSource, u.Scheme)
	}
}

// Put writes an artifact under the job's directory and returns its URL.
// Each artifact gets a fresh blob location; nothing is overwritten.
func (c *Client) Put(jobID, name string, data []byte) (string, error) {
	dir := filepath.Join(c.artifactDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure artifact dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("artifact %s already exists", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}

// DeleteSource removes the original upload. The caller logs failures; they
// never revert job status.
func (c *Client) DeleteSource(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse source: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("delete source: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("delete source: status %d", resp.StatusCode)
		}
		return nil
	case "file", "":
		err := os.Remove(localPath(u, rawURL))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete source: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func localPath(u *url.URL, raw string) string {
	if u.Scheme == "file" {
		return u.Path
	}
	return raw
}
