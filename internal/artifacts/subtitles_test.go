package artifacts

import (
	"strings"
	"testing"

	"scribepipe/internal/provider"
)

func sampleUtterances() []provider.Utterance {
	return []provider.Utterance{
		{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 2500, Text: "Good morning everyone."},
		{Speaker: "SPEAKER_B", StartMS: 2500, EndMS: 61250, Text: "Thanks, let's get started."},
		{Speaker: "SPEAKER_A", StartMS: 3661007, EndMS: 3665999, Text: "Wrapping up."},
	}
}

func TestBuildSRT(t *testing.T) {
	srt := BuildSRT(sampleUtterances())

	want := "1\n" +
		"00:00:00,000 --> 00:00:02,500\n" +
		"[SPEAKER_A] Good morning everyone.\n" +
		"\n" +
		"2\n" +
		"00:00:02,500 --> 00:01:01,250\n" +
		"[SPEAKER_B] Thanks, let's get started.\n" +
		"\n" +
		"3\n" +
		"01:01:01,007 --> 01:01:05,999\n" +
		"[SPEAKER_A] Wrapping up.\n" +
		"\n"
	if srt != want {
		t.Errorf("BuildSRT mismatch:\ngot:\n%s\nwant:\n%s", srt, want)
	}
}

func TestBuildSRTEmpty(t *testing.T) {
	if got := BuildSRT(nil); got != "" {
		t.Errorf("BuildSRT(nil) = %q, want empty", got)
	}
}

func TestBuildVTTMatchesSRTSegmentation(t *testing.T) {
	utterances := sampleUtterances()
	srt := BuildSRT(utterances)
	vtt := BuildVTT(srt)

	if !strings.HasPrefix(vtt, "WEBVTT\n\n") {
		t.Fatalf("VTT missing header: %q", vtt[:20])
	}

	srtCues := strings.Count(srt, " --> ")
	vttCues := strings.Count(vtt, " --> ")
	if srtCues != vttCues {
		t.Fatalf("cue count diverged: srt=%d vtt=%d", srtCues, vttCues)
	}
	if srtCues != len(utterances) {
		t.Fatalf("cue count = %d, want %d", srtCues, len(utterances))
	}

	// Every timestamp line differs only in the millisecond separator; text
	// lines are byte-identical.
	srtLines := strings.Split(srt, "\n")
	vttLines := strings.Split(strings.TrimPrefix(vtt, "WEBVTT\n\n"), "\n")
	for i, line := range srtLines {
		if i >= len(vttLines) {
			break
		}
		if strings.Contains(line, " --> ") {
			if want := strings.ReplaceAll(line, ",", "."); vttLines[i] != want {
				t.Errorf("line %d: vtt %q, want %q", i, vttLines[i], want)
			}
		} else if vttLines[i] != line {
			t.Errorf("line %d: vtt %q diverged from srt %q", i, vttLines[i], line)
		}
	}
}

func TestBuildVTTKeepsCommasInText(t *testing.T) {
	srt := BuildSRT([]provider.Utterance{
		{Speaker: "SPEAKER_A", StartMS: 0, EndMS: 1000, Text: "First, second, third."},
	})
	vtt := BuildVTT(srt)
	if !strings.Contains(vtt, "First, second, third.") {
		t.Errorf("text commas were rewritten:\n%s", vtt)
	}
	if !strings.Contains(vtt, "00:00:00.000 --> 00:00:01.000") {
		t.Errorf("timestamp separator not converted:\n%s", vtt)
	}
}

func TestFormatSRTTimestamp(t *testing.T) {
	cases := map[int64]string{
		0:        "00:00:00,000",
		-5:       "00:00:00,000",
		999:      "00:00:00,999",
		61250:    "00:01:01,250",
		3661007:  "01:01:01,007",
		36000000: "10:00:00,000",
	}
	for ms, want := range cases {
		if got := formatSRTTimestamp(ms); got != want {
			t.Errorf("formatSRTTimestamp(%d) = %q, want %q", ms, got, want)
		}
	}
}
