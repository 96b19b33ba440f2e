package enrich

import (
	"fmt"
	"strings"

	"scribepipe/internal/job"
)

// DefaultLanguage is the prompt language used when a job's language is
// "auto" or outside the supported set.
const DefaultLanguage = "en"

var supportedPromptLanguages = map[string]string{
	"en": "English",
	"es": "Spanish",
	"ca": "Catalan",
	"eu": "Basque",
	"gl": "Galician",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"it": "Italian",
}

// NormalizeLanguage maps a job language code onto a supported prompt
// language, falling back to the default.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.Index(code, "-"); i > 0 {
		code = code[:i]
	}
	if _, ok := supportedPromptLanguages[code]; ok {
		return code
	}
	return DefaultLanguage
}

// tagsMarker separates the summary from the tag list in the combined
// response format.
const tagsMarker = "---TAGS---"

func buildSummaryTagsPrompt(transcript, language string, style job.SummaryStyle, wantSummary, wantTags bool) string {
	langName := supportedPromptLanguages[NormalizeLanguage(language)]

	var b strings.Builder
	b.WriteString("You are a meticulous editorial assistant. Respond in " + langName + ".\n\n")

	if wantSummary {
		if style == job.SummaryDetailed {
			b.WriteString("Write a detailed summary of the transcript below in 3-4 paragraphs.\n")
		} else {
			b.WriteString("Write a concise summary of the transcript below in at most 150 words.\n")
		}
	}
	if wantTags {
		if wantSummary {
			b.WriteString("Then, on its own line, write exactly " + tagsMarker + " and after it ")
		} else {
			b.WriteString("Write ")
		}
		b.WriteString("5 to 10 short descriptive tags, comma separated, lowercase.\n")
	}
	b.WriteString("Do not add commentary or headings beyond what is asked.\n\n")
	b.WriteString("TRANSCRIPT:\n\"\"\"\n")
	b.WriteString(transcript)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}

func buildSpeakersPrompt(transcript, language string, labels []string) string {
	langName := supportedPromptLanguages[NormalizeLanguage(language)]
	return fmt.Sprintf(`You are analyzing a diarized transcript. Respond in %s.

The transcript contains these speaker labels: %s

For each label, infer the speaker's display name and role ONLY when they are
explicitly stated in the content (introductions, forms of address). Never
invent names. Leave "name" and "role" empty when the content does not state
them.

Return ONLY a JSON array, one object per label, preserving the label order:
[{"label": "", "name": "", "role": ""}]

TRANSCRIPT:
"""
%s
"""
`, langName, strings.Join(labels, ", "), transcript)
}
