package artifacts

import (
	"strings"
	"testing"

	"scribepipe/internal/enrich"
	"scribepipe/internal/provider"
)

func TestAggregateSpeakersRanksByTalkTime(t *testing.T) {
	utterances := []provider.Utterance{
		{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 5000, Text: "short remark"},
		{Speaker: "SPEAKER_B", StartMS: 5000, EndMS: 65000, Text: "a much longer monologue with many words in it"},
		{Speaker: "SPEAKER_A", StartMS: 65000, EndMS: 70000, Text: "another remark"},
	}
	speakers := []enrich.Speaker{
		{Label: "SPEAKER_B", Name: "Alice Duran", Role: "moderator"},
	}

	stats := AggregateSpeakers(utterances, speakers)
	if len(stats) != 2 {
		t.Fatalf("got %d speakers, want 2", len(stats))
	}
	if stats[0].Label != "SPEAKER_B" {
		t.Errorf("top speaker = %s, want SPEAKER_B", stats[0].Label)
	}
	if stats[0].Name != "Alice Duran" || stats[0].Role != "moderator" {
		t.Errorf("resolved identity not merged: %+v", stats[0])
	}
	if stats[0].DurationMS != 60000 {
		t.Errorf("top talk time = %d, want 60000", stats[0].DurationMS)
	}
	if stats[1].Interventions != 2 {
		t.Errorf("SPEAKER_A interventions = %d, want 2", stats[1].Interventions)
	}

	totalPct := stats[0].PercentOfTotal + stats[1].PercentOfTotal
	if totalPct < 99.9 || totalPct > 100.1 {
		t.Errorf("percentages sum to %.2f, want ~100", totalPct)
	}
}

func TestAggregateSpeakersEmpty(t *testing.T) {
	if stats := AggregateSpeakers(nil, nil); len(stats) != 0 {
		t.Errorf("got %d stats for no utterances", len(stats))
	}
}

func TestAggregateSpeakersIgnoresNegativeDurations(t *testing.T) {
	stats := AggregateSpeakers([]provider.Utterance{
		{Speaker: "SPEAKER_A", StartMS: 5000, EndMS: 1000, Text: "clock skew"},
	}, nil)
	if len(stats) != 1 {
		t.Fatalf("got %d stats, want 1", len(stats))
	}
	if stats[0].DurationMS != 0 {
		t.Errorf("negative duration counted: %d", stats[0].DurationMS)
	}
	if stats[0].Interventions != 1 {
		t.Errorf("intervention not counted: %d", stats[0].Interventions)
	}
}

func TestRenderSpeakerReport(t *testing.T) {
	utterances := []provider.Utterance{
		{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 5000, Text: "hello there"},
	}
	stats := AggregateSpeakers(utterances, []enrich.Speaker{
		{Label: "SPEAKER_A", Name: "Bob"},
	})

	short := RenderSpeakerReport(stats, utterances, false)
	if !strings.Contains(short, "SPEAKER REPORT") {
		t.Error("missing report heading")
	}
	if !strings.Contains(short, "Bob (SPEAKER_A)") {
		t.Error("resolved name not displayed")
	}
	if strings.Contains(short, "TIMELINE") {
		t.Error("short report contains timeline")
	}

	detailed := RenderSpeakerReport(stats, utterances, true)
	if !strings.Contains(detailed, "TIMELINE") {
		t.Error("detailed report missing timeline")
	}
	if !strings.Contains(detailed, "hello there") {
		t.Error("timeline missing utterance text")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{
		0:       "0m00s",
		-100:    "0m00s",
		61000:   "1m01s",
		3725000: "1h02m05s",
	}
	for ms, want := range cases {
		if got := formatDuration(ms); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}
