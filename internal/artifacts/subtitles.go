package artifacts

import (
	"fmt"
	"strings"

	"scribepipe/internal/provider"
)

// BuildSRT renders utterances as SubRip: sequential index, comma millisecond
// separator, speaker label prefixed in brackets.
func BuildSRT(utterances []provider.Utterance) string {
	var b strings.Builder
	for i, u := range utterances {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(u.StartMS), formatSRTTimestamp(u.EndMS))
		fmt.Fprintf(&b, "[%s] %s\n\n", u.Speaker, u.Text)
	}
	return b.String()
}

// BuildVTT derives WebVTT from the SRT content by timestamp-separator
// substitution, so the two formats can never diverge in segmentation.
func BuildVTT(srt string) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, line := range strings.Split(srt, "\n") {
		if strings.Contains(line, " --> ") {
			line = strings.ReplaceAll(line, ",", ".")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// formatSRTTimestamp renders milliseconds as HH:MM:SS,mmm.
func formatSRTTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600000
	minutes := (ms % 3600000) / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
