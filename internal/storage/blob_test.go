package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateSourceLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audio.mp3")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewClient(dir)
	size, err := c.ValidateSource(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if size != 10 {
		t.Errorf("size = %d, want 10", size)
	}
}

func TestValidateSourceRejections(t *testing.T) {
	c := NewClient(t.TempDir())
	ctx := context.Background()

	for _, raw := range []string{
		"",
		"   ",
		"ftp://example.com/file.mp3",
		"file:///definitely/not/there.mp3",
	} {
		if _, err := c.ValidateSource(ctx, raw); !errors.Is(err, ErrBadSource) {
			t.Errorf("ValidateSource(%q) = %v, want ErrBadSource", raw, err)
		}
	}
}

func TestValidateSourceHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", "123")
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	size, err := c.ValidateSource(context.Background(), srv.URL+"/ok")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if size != 123 {
		t.Errorf("size = %d, want 123", size)
	}

	if _, err := c.ValidateSource(context.Background(), srv.URL+"/gone"); !errors.Is(err, ErrBadSource) {
		t.Errorf("404 source: got %v, want ErrBadSource", err)
	}
}

func TestPutWriteOnce(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(dir)

	url, err := c.Put("job-1", "transcript.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("url = %q, want file:// scheme", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "job-1", "transcript.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	if _, err := c.Put("job-1", "transcript.txt", []byte("overwrite")); err == nil {
		t.Fatal("second put of the same artifact succeeded")
	}
	data, _ = os.ReadFile(filepath.Join(dir, "job-1", "transcript.txt"))
	if string(data) != "hello" {
		t.Errorf("artifact was overwritten: %q", data)
	}
}

func TestFetchLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewClient(dir)
	data, err := c.Fetch(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
}

func TestDeleteSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "source.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewClient(dir)
	ctx := context.Background()
	if err := c.DeleteSource(ctx, "file://"+path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("source still exists")
	}

	// Deleting an already-gone source is not an error.
	if err := c.DeleteSource(ctx, "file://"+path); err != nil {
		t.Errorf("second delete: %v", err)
	}
	// Nothing to do for an empty URL.
	if err := c.DeleteSource(ctx, ""); err != nil {
		t.Errorf("empty url delete: %v", err)
	}
}

func TestDeleteSourceHTTPToleratesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(t.TempDir())
	if err := c.DeleteSource(context.Background(), srv.URL+"/uploads/1"); err != nil {
		t.Errorf("delete of missing remote source: %v", err)
	}
}
