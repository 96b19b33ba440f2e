// Package selector maps a job's content kind, language and size onto a
// transcription backend. Selection is pure so it can be tested without any
// network code.
package selector

import (
	"path/filepath"
	"strings"

	"scribepipe/internal/job"
)

// Backend identifies a transcription provider.
type Backend string

const (
	BackendWhisper      Backend = "whisper"
	BackendAssemblyAI   Backend = "assemblyai"
	BackendSpeechmatics Backend = "speechmatics"
	BackendDocExtract   Backend = "docextract"
)

// DocFormat is the extraction path for document jobs.
type DocFormat string

const (
	DocPDF     DocFormat = "pdf"
	DocDOCX    DocFormat = "docx"
	DocText    DocFormat = "txt"
	DocUnknown DocFormat = ""
)

// Rules carries the tunable selection thresholds.
type Rules struct {
	// AssemblyAIMinBytes is the size above which the low-latency provider's
	// hard ceiling is exceeded and the bulk backend takes over.
	AssemblyAIMinBytes int64
}

// speechmaticsLanguages are languages with limited coverage in the
// Whisper-class backend.
var speechmaticsLanguages = map[string]struct{}{
	"eu": {},
	"gl": {},
}

// Select returns the backend for a job. Deterministic and side-effect free.
func Select(kind job.ContentKind, language string, sizeBytes int64, rules Rules) Backend {
	if kind == job.KindDocument {
		return BackendDocExtract
	}
	lang := strings.ToLower(strings.TrimSpace(language))
	if _, ok := speechmaticsLanguages[lang]; ok {
		return BackendSpeechmatics
	}
	if rules.AssemblyAIMinBytes > 0 && sizeBytes > rules.AssemblyAIMinBytes {
		return BackendAssemblyAI
	}
	return BackendWhisper
}

// FormatForFilename picks the document extraction path by extension.
func FormatForFilename(filename string) DocFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return DocPDF
	case ".docx", ".doc":
		return DocDOCX
	case ".txt", ".md":
		return DocText
	default:
		return DocUnknown
	}
}
