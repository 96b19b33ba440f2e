package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scribepipe/internal/errtrack"
	"scribepipe/internal/job"
	"scribepipe/internal/provider"
)

func TestParseSummaryTagsWithMarker(t *testing.T) {
	raw := "The team agreed on the release plan.\n---TAGS---\nrelease, planning, Roadmap, release"
	summary, tags := ParseSummaryTags(raw, true, true)
	if summary != "The team agreed on the release plan." {
		t.Errorf("summary = %q", summary)
	}
	want := []string{"release", "planning", "roadmap"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestParseSummaryTagsMarkerAbsent(t *testing.T) {
	raw := "Just a summary with no tag section."

	summary, tags := ParseSummaryTags(raw, true, true)
	if summary != raw {
		t.Errorf("summary fallback = %q", summary)
	}
	if tags != nil {
		t.Errorf("tags = %v, want nil", tags)
	}

	// Tags-only request: the whole text is the tag list.
	summary, tags = ParseSummaryTags("alpha, beta", false, true)
	if summary != "" {
		t.Errorf("summary = %q, want empty", summary)
	}
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v", tags)
	}
}

func TestParseSummaryTagsDropsUnrequested(t *testing.T) {
	raw := "Summary here.\n---TAGS---\none, two"

	summary, tags := ParseSummaryTags(raw, false, true)
	if summary != "" {
		t.Errorf("unrequested summary kept: %q", summary)
	}
	if len(tags) != 2 {
		t.Errorf("tags = %v", tags)
	}

	summary, tags = ParseSummaryTags(raw, true, false)
	if summary == "" {
		t.Error("requested summary dropped")
	}
	if tags != nil {
		t.Errorf("unrequested tags kept: %v", tags)
	}
}

func TestParseTagListCapsAtTen(t *testing.T) {
	var parts []string
	for i := 0; i < 15; i++ {
		parts = append(parts, fmt.Sprintf("tag%d", i))
	}
	tags := parseTagList(strings.Join(parts, ", "))
	if len(tags) != 10 {
		t.Errorf("got %d tags, want 10", len(tags))
	}
}

func TestParseTagListStripsDecoration(t *testing.T) {
	tags := parseTagList("#growth\n- Strategy\n• budget; budget")
	want := []string{"growth", "strategy", "budget"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n[{\"label\":\"A\"}]\n```", `[{"label":"A"}]`},
		{`noise before {"a": {"b": 1}} noise after`, `{"a": {"b": 1}}`},
		{"no json here", ""},
		{"", ""},
		{"[unbalanced", ""},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"es":    "es",
		"ES":    "es",
		"pt-BR": "pt",
		"auto":  "en",
		"":      "en",
		"zz":    "en",
	}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

// gatewayStub answers the combined summary/tags prompt and the speakers
// prompt differently, keyed on the prompt text.
func gatewayStub(t *testing.T, speakersJSON, summaryText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(body, &req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prompt := req.Messages[0].Content

		content := summaryText
		if strings.Contains(prompt, "JSON array") {
			content = speakersJSON
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestOrchestrator(baseURL string) *Orchestrator {
	llm := NewLLMClient(LLMOptions{BaseURL: baseURL, APIKey: "test-key", Model: "test-model"})
	return NewOrchestrator(llm, errtrack.NewTracker(nil))
}

func TestEnrichAllTasks(t *testing.T) {
	srv := gatewayStub(t,
		`[{"label":"SPEAKER_A","name":"Maria","role":"host"},{"label":"SPEAKER_B","name":"","role":""}]`,
		"A productive meeting about the budget.\n---TAGS---\nbudget, finance")
	defer srv.Close()

	o := newTestOrchestrator(srv.URL)
	outcome := o.Enrich(context.Background(), "job-1", "user-1", Request{
		Transcript: "MARIA: welcome. GUEST: thanks.",
		Utterances: []provider.Utterance{
			{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 1000, Text: "welcome"},
			{Speaker: "SPEAKER_B", StartMS: 1000, EndMS: 2000, Text: "thanks"},
		},
		Language:     "en",
		SummaryStyle: job.SummaryShort,
		WantSpeakers: true,
		WantSummary:  true,
		WantTags:     true,
	})

	if len(outcome.Failures) != 0 {
		t.Fatalf("failures: %v", outcome.Failures)
	}
	if outcome.Summary != "A productive meeting about the budget." {
		t.Errorf("summary = %q", outcome.Summary)
	}
	if len(outcome.Tags) != 2 || outcome.Tags[0] != "budget" {
		t.Errorf("tags = %v", outcome.Tags)
	}
	if len(outcome.Speakers) != 2 {
		t.Fatalf("speakers = %v", outcome.Speakers)
	}
	if outcome.Speakers[0].Label != "SPEAKER_A" || outcome.Speakers[0].Name != "Maria" {
		t.Errorf("speaker[0] = %+v", outcome.Speakers[0])
	}
	if outcome.Speakers[1].Name != "" {
		t.Errorf("unresolved speaker got a name: %+v", outcome.Speakers[1])
	}
}

func TestEnrichEveryLabelAppears(t *testing.T) {
	// The model answered for only one of the two labels; the other still
	// appears unresolved in label order.
	srv := gatewayStub(t, `[{"label":"SPEAKER_B","name":"Jon","role":""}]`, "summary")
	defer srv.Close()

	o := newTestOrchestrator(srv.URL)
	outcome := o.Enrich(context.Background(), "job-1", "user-1", Request{
		Transcript: "text",
		Utterances: []provider.Utterance{
			{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 1000, Text: "one"},
			{Speaker: "SPEAKER_B", StartMS: 1000, EndMS: 2000, Text: "two"},
		},
		WantSpeakers: true,
	})
	if len(outcome.Speakers) != 2 {
		t.Fatalf("speakers = %v", outcome.Speakers)
	}
	if outcome.Speakers[0].Label != "SPEAKER_A" || outcome.Speakers[0].Name != "" {
		t.Errorf("speaker[0] = %+v", outcome.Speakers[0])
	}
	if outcome.Speakers[1].Name != "Jon" {
		t.Errorf("speaker[1] = %+v", outcome.Speakers[1])
	}
}

func TestEnrichAllTasksFailing(t *testing.T) {
	// 401 is permanent, so both tasks fail fast without retry.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := newTestOrchestrator(srv.URL)
	outcome := o.Enrich(context.Background(), "job-1", "user-1", Request{
		Transcript: "text",
		Utterances: []provider.Utterance{
			{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 1000, Text: "one"},
		},
		WantSpeakers: true,
		WantSummary:  true,
		WantTags:     true,
	})

	if len(outcome.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(outcome.Failures))
	}
	if outcome.Summary != "" || len(outcome.Tags) != 0 || len(outcome.Speakers) != 0 {
		t.Errorf("failed enrichment produced output: %+v", outcome)
	}
}

func TestEnrichSkipsSpeakersWithoutUtterances(t *testing.T) {
	srv := gatewayStub(t, `[]`, "summary")
	defer srv.Close()

	o := newTestOrchestrator(srv.URL)
	outcome := o.Enrich(context.Background(), "job-1", "user-1", Request{
		Transcript:   "text without diarization",
		WantSpeakers: true,
	})
	if len(outcome.Speakers) != 0 || len(outcome.Failures) != 0 {
		t.Errorf("outcome = %+v", outcome)
	}
}
