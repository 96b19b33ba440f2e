// Package api exposes the job submission and status surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scribepipe/internal/job"
	"scribepipe/internal/logger"
	"scribepipe/internal/progress"
)

// Server serves job submission, status lookups and the health endpoint.
type Server struct {
	store     *job.Store
	estimator progress.Estimator
	bind      string
	http      *http.Server
	log       *logger.Logger
}

// NewServer builds the API server.
func NewServer(store *job.Store, estimator progress.Estimator, bind string) *Server {
	s := &Server{
		store:     store,
		estimator: estimator,
		bind:      bind,
		log:       logger.New(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs/{id}", s.handleStatus)
	s.http = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	log := s.log.WithComponent("api")
	errCh := make(chan error, 1)
	go func() {
		log.WithField("bind", s.bind).Info("api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	counts := map[string]int{}
	for status, n := range stats {
		counts[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   counts,
	})
}

// submitRequest is the POST /jobs payload.
type submitRequest struct {
	UserID       string   `json:"user_id"`
	ContentKind  string   `json:"content_kind"`
	Filename     string   `json:"filename"`
	SourceURL    string   `json:"source_url"`
	Language     string   `json:"language"`
	Actions      []string `json:"actions"`
	SummaryStyle string   `json:"summary_style"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r)

	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	j, err := buildJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Create(r.Context(), j); err != nil {
		log.WithError(err).Error("job creation failed")
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	log.WithField("job_id", j.ID).Info("job accepted")
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     j.ID,
		"status": string(j.Status),
	})
}

func buildJob(req submitRequest) (*job.Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New("user_id is required")
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, errors.New("source_url is required")
	}
	kind := job.ContentKind(strings.ToLower(strings.TrimSpace(req.ContentKind)))
	if kind != job.KindAudio && kind != job.KindDocument {
		return nil, fmt.Errorf("content_kind must be %q or %q", job.KindAudio, job.KindDocument)
	}
	if len(req.Actions) == 0 {
		return nil, errors.New("at least one action is required")
	}

	known := map[job.Action]struct{}{
		job.ActionTranscribe:   {},
		job.ActionSpeakers:     {},
		job.ActionSummarize:    {},
		job.ActionSubtitles:    {},
		job.ActionTags:         {},
		job.ActionNarrateAudio: {},
	}
	actions := make([]job.Action, 0, len(req.Actions))
	for _, raw := range req.Actions {
		a := job.Action(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := known[a]; !ok {
			return nil, fmt.Errorf("unknown action %q", raw)
		}
		actions = append(actions, a)
	}

	style := job.SummaryStyle(strings.ToLower(strings.TrimSpace(req.SummaryStyle)))
	switch style {
	case "":
		style = job.SummaryShort
	case job.SummaryShort, job.SummaryDetailed:
	default:
		return nil, fmt.Errorf("summary_style must be %q or %q", job.SummaryShort, job.SummaryDetailed)
	}

	return &job.Job{
		UserID:           strings.TrimSpace(req.UserID),
		ContentKind:      kind,
		Filename:         strings.TrimSpace(req.Filename),
		SourceURL:        strings.TrimSpace(req.SourceURL),
		Language:         strings.TrimSpace(req.Language),
		RequestedActions: actions,
		SummaryStyle:     style,
	}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}

	resp := map[string]any{
		"id":               j.ID,
		"status":           string(j.Status),
		"progress_percent": s.estimator.Estimate(j, time.Now()),
		"content_kind":     string(j.ContentKind),
		"created_at":       j.CreatedAt.Format(time.RFC3339),
	}
	if j.ErrorMessage != "" {
		resp["error_message"] = j.ErrorMessage
	}
	if len(j.Tags) > 0 {
		resp["tags"] = j.Tags
	}
	if len(j.Metadata.Degraded) > 0 {
		resp["degraded"] = j.Metadata.Degraded
	}
	if urls := artifactMap(j.Artifacts); len(urls) > 0 {
		resp["artifacts"] = urls
	}
	writeJSON(w, http.StatusOK, resp)
}

func artifactMap(a job.Artifacts) map[string]string {
	urls := map[string]string{}
	for name, url := range map[string]string{
		"transcript":  a.TranscriptURL,
		"srt":         a.SRTURL,
		"vtt":         a.VTTURL,
		"summary":     a.SummaryURL,
		"speakers":    a.SpeakersURL,
		"spreadsheet": a.SpreadsheetURL,
		"pdf":         a.PDFURL,
		"narration":   a.NarrationURL,
	} {
		if url != "" {
			urls[name] = url
		}
	}
	return urls
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
