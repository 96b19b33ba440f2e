// Package enrich runs speaker identification, summarization and tag
// extraction concurrently against a normalized transcript. Task failures are
// non-fatal: the job proceeds with whatever succeeded.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/logger"
	"scribepipe/internal/provider"
)

// Speaker is one resolved (or unresolved) diarization label.
type Speaker struct {
	Label string `json:"label"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Request carries everything the enrichment tasks need.
type Request struct {
	Transcript   string
	Utterances   []provider.Utterance
	Language     string
	SummaryStyle job.SummaryStyle
	WantSpeakers bool
	WantSummary  bool
	WantTags     bool
}

// Outcome is the join-all result. Fields for failed or unrequested tasks
// stay empty; Failures lists what went wrong for diagnostics.
type Outcome struct {
	Speakers []Speaker
	Summary  string
	Tags     []string
	Failures []error
}

// Orchestrator fans the tasks out against the LLM gateway.
type Orchestrator struct {
	llm     *LLMClient
	tracker *errtrack.Tracker
	log     *logger.Logger
}

// NewOrchestrator wires the enrichment stage.
func NewOrchestrator(llm *LLMClient, tracker *errtrack.Tracker) *Orchestrator {
	return &Orchestrator{llm: llm, tracker: tracker, log: logger.New()}
}

// Enrich runs the requested tasks concurrently and waits for all of them.
// A failure in one task never cancels the others.
func (o *Orchestrator) Enrich(ctx context.Context, jobID, userID string, req Request) Outcome {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		outcome Outcome
	)
	fail := func(task string, err error) {
		wrapped := fmt.Errorf("%w: %s: %v", errtrack.ErrEnrichment, task, err)
		o.tracker.Capture(jobID, userID, wrapped)
		mu.Lock()
		outcome.Failures = append(outcome.Failures, wrapped)
		mu.Unlock()
	}

	if req.WantSpeakers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			speakers, err := o.identifySpeakers(ctx, req)
			if err != nil {
				fail("speakers", err)
				return
			}
			mu.Lock()
			outcome.Speakers = speakers
			mu.Unlock()
		}()
	}

	if req.WantSummary || req.WantTags {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, tags, err := o.summarizeAndTag(ctx, req)
			if err != nil {
				fail("summary_tags", err)
				return
			}
			mu.Lock()
			outcome.Summary = summary
			outcome.Tags = tags
			mu.Unlock()
		}()
	}

	wg.Wait()
	return outcome
}

// summarizeAndTag issues the combined call covering summary and tags. When
// only one of the two is requested the other instruction is omitted.
func (o *Orchestrator) summarizeAndTag(ctx context.Context, req Request) (string, []string, error) {
	prompt := buildSummaryTagsPrompt(req.Transcript, req.Language, req.SummaryStyle, req.WantSummary, req.WantTags)
	raw, err := o.llm.Complete(ctx, prompt)
	if err != nil {
		return "", nil, err
	}
	summary, tags := ParseSummaryTags(raw, req.WantSummary, req.WantTags)
	if req.WantSummary && summary == "" && len(tags) == 0 {
		return "", nil, fmt.Errorf("empty summary response")
	}
	return summary, tags, nil
}

// ParseSummaryTags splits the combined response on the tags marker. When the
// marker is absent the whole text is treated as the primary requested output.
func ParseSummaryTags(raw string, wantSummary, wantTags bool) (string, []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	if idx := strings.Index(raw, tagsMarker); idx >= 0 {
		summary := strings.TrimSpace(raw[:idx])
		tags := parseTagList(raw[idx+len(tagsMarker):])
		if !wantSummary {
			summary = ""
		}
		if !wantTags {
			tags = nil
		}
		return summary, tags
	}

	// Marker missing: the whole text belongs to whichever output was the
	// primary request.
	if wantSummary {
		return raw, nil
	}
	if wantTags {
		return "", parseTagList(raw)
	}
	return "", nil
}

func parseTagList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	var tags []string
	seen := map[string]struct{}{}
	for _, f := range fields {
		tag := strings.ToLower(strings.TrimSpace(strings.Trim(f, "#.-• ")))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == 10 {
			break
		}
	}
	return tags
}

// identifySpeakers resolves diarization labels to names and roles stated in
// the content. Unresolved labels keep empty name/role.
func (o *Orchestrator) identifySpeakers(ctx context.Context, req Request) ([]Speaker, error) {
	labels := distinctLabels(req.Utterances)
	if len(labels) == 0 {
		return nil, nil
	}
	prompt := buildSpeakersPrompt(req.Transcript, req.Language, labels)
	raw, err := o.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed []Speaker
	if payload := extractJSON(raw); payload != "" {
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			return nil, fmt.Errorf("decode speakers: %w", err)
		}
	}

	// Every label present in the audio appears in the output, resolved or
	// not, preserving first-utterance order.
	byLabel := map[string]Speaker{}
	for _, s := range parsed {
		byLabel[provider.NormalizeSpeakerLabel(s.Label)] = s
	}
	out := make([]Speaker, 0, len(labels))
	for _, label := range labels {
		sp := Speaker{Label: label}
		if found, ok := byLabel[label]; ok {
			sp.Name = strings.TrimSpace(found.Name)
			sp.Role = strings.TrimSpace(found.Role)
		}
		out = append(out, sp)
	}
	return out, nil
}

func distinctLabels(utterances []provider.Utterance) []string {
	var labels []string
	seen := map[string]struct{}{}
	for _, u := range utterances {
		if _, ok := seen[u.Speaker]; ok {
			continue
		}
		seen[u.Speaker] = struct{}{}
		labels = append(labels, u.Speaker)
	}
	return labels
}
