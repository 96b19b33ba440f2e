package artifacts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"scribepipe/internal/job"
	"scribepipe/internal/provider"
)

// BuildSpreadsheet renders the job's fields into an xlsx workbook: an
// overview sheet plus a per-utterance transcript sheet.
func BuildSpreadsheet(j *job.Job, res *provider.Result, summary string, stats []SpeakerStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	overview := "Overview"
	if err := f.SetSheetName(f.GetSheetName(0), overview); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	rows := [][]any{
		{"Filename", j.Filename},
		{"Language", j.Language},
		{"Duration (s)", res.DurationSeconds},
		{"Tags", strings.Join(j.Tags, ", ")},
		{"Summary", summary},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(overview, cell, &row); err != nil {
			return nil, fmt.Errorf("write overview row: %w", err)
		}
	}

	speakerRow := len(rows) + 2
	header := []any{"Speaker", "Interventions", "Words", "Talk Time (s)", "% of Total"}
	cell, _ := excelize.CoordinatesToCellName(1, speakerRow)
	if err := f.SetSheetRow(overview, cell, &header); err != nil {
		return nil, fmt.Errorf("write speaker header: %w", err)
	}
	for i, st := range stats {
		row := []any{st.Label, st.Interventions, st.Words, float64(st.DurationMS) / 1000, st.PercentOfTotal}
		cell, _ := excelize.CoordinatesToCellName(1, speakerRow+1+i)
		if err := f.SetSheetRow(overview, cell, &row); err != nil {
			return nil, fmt.Errorf("write speaker row: %w", err)
		}
	}

	transcript := "Transcript"
	if _, err := f.NewSheet(transcript); err != nil {
		return nil, fmt.Errorf("create transcript sheet: %w", err)
	}
	tHeader := []any{"Start", "End", "Speaker", "Text"}
	if err := f.SetSheetRow(transcript, "A1", &tHeader); err != nil {
		return nil, fmt.Errorf("write transcript header: %w", err)
	}
	if len(res.Utterances) == 0 {
		row := []any{"", "", "", res.Text}
		if err := f.SetSheetRow(transcript, "A2", &row); err != nil {
			return nil, fmt.Errorf("write transcript text: %w", err)
		}
	}
	for i, u := range res.Utterances {
		row := []any{formatDuration(u.StartMS), formatDuration(u.EndMS), u.Speaker, u.Text}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(transcript, cell, &row); err != nil {
			return nil, fmt.Errorf("write transcript row: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
