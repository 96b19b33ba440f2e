package artifacts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"

	"scribepipe/internal/job"
	"scribepipe/internal/provider"
)

// BuildPDF renders the job's results as a printable document. Generation
// failure is non-fatal for the job.
func BuildPDF(j *job.Job, res *provider.Result, summary string, stats []SpeakerStats) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(j.Filename, false)
	pdf.SetAuthor("scribepipe", false)
	pdf.AddPage()

	title := strings.TrimSpace(j.Filename)
	if title == "" {
		title = "Transcription"
	}

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 10, title, "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Language: %s", j.Language), "", 1, "L", false, 0, "")
	if res.DurationSeconds > 0 {
		pdf.CellFormat(0, 6, fmt.Sprintf("Duration: %s", formatDuration(int64(res.DurationSeconds*1000))), "", 1, "L", false, 0, "")
	}
	if len(j.Tags) > 0 {
		pdf.CellFormat(0, 6, fmt.Sprintf("Tags: %s", strings.Join(j.Tags, ", ")), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	if summary != "" {
		writePDFSection(pdf, "Summary", summary)
	}
	if len(stats) > 0 {
		var b strings.Builder
		for i, st := range stats {
			display := st.Label
			if st.Name != "" {
				display = fmt.Sprintf("%s (%s)", st.Name, st.Label)
			}
			fmt.Fprintf(&b, "%d. %s - %d interventions, %s talk time (%.1f%%)\n",
				i+1, display, st.Interventions, formatDuration(st.DurationMS), st.PercentOfTotal)
		}
		writePDFSection(pdf, "Speakers", b.String())
	}
	writePDFSection(pdf, "Transcript", res.Text)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writePDFSection(pdf *gofpdf.Fpdf, heading, body string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, heading, "", 1, "L", false, 0, "")
	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 11)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.MultiCell(0, 5, tr(body), "", "L", false)
	pdf.Ln(6)
}
