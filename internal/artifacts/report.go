package artifacts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"scribepipe/internal/enrich"
	"scribepipe/internal/provider"
)

// SpeakerStats is the ranked per-speaker breakdown of talk time.
type SpeakerStats struct {
	Label             string
	Name              string
	Role              string
	Interventions     int
	Words             int
	DurationMS        int64
	PercentOfTotal    float64
	AvgInterventionMS int64
}

// AggregateSpeakers folds utterances into per-speaker stats ranked by total
// talk time, merging in resolved names and roles when available.
func AggregateSpeakers(utterances []provider.Utterance, speakers []enrich.Speaker) []SpeakerStats {
	byLabel := map[string]*SpeakerStats{}
	var order []string
	var totalMS int64

	for _, u := range utterances {
		st, ok := byLabel[u.Speaker]
		if !ok {
			st = &SpeakerStats{Label: u.Speaker}
			byLabel[u.Speaker] = st
			order = append(order, u.Speaker)
		}
		st.Interventions++
		st.Words += len(strings.Fields(u.Text))
		dur := u.EndMS - u.StartMS
		if dur > 0 {
			st.DurationMS += dur
			totalMS += dur
		}
	}

	for _, sp := range speakers {
		if st, ok := byLabel[sp.Label]; ok {
			st.Name = sp.Name
			st.Role = sp.Role
		}
	}

	out := make([]SpeakerStats, 0, len(order))
	for _, label := range order {
		st := byLabel[label]
		if totalMS > 0 {
			st.PercentOfTotal = float64(st.DurationMS) / float64(totalMS) * 100
		}
		if st.Interventions > 0 {
			st.AvgInterventionMS = st.DurationMS / int64(st.Interventions)
		}
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DurationMS > out[j].DurationMS
	})
	return out
}

// RenderSpeakerReport produces the human-readable ranked breakdown. When
// detailed is set the full utterance timeline follows the table.
func RenderSpeakerReport(stats []SpeakerStats, utterances []provider.Utterance, detailed bool) string {
	var b strings.Builder
	b.WriteString("SPEAKER REPORT\n\n")

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Speaker", "Role", "Interventions", "Words", "Talk Time", "% of Total", "Avg Length"})
	for i, st := range stats {
		display := st.Label
		if st.Name != "" {
			display = fmt.Sprintf("%s (%s)", st.Name, st.Label)
		}
		tw.AppendRow(table.Row{
			i + 1,
			display,
			st.Role,
			st.Interventions,
			st.Words,
			formatDuration(st.DurationMS),
			fmt.Sprintf("%.1f%%", st.PercentOfTotal),
			formatDuration(st.AvgInterventionMS),
		})
	}
	b.WriteString(tw.Render())
	b.WriteString("\n")

	if detailed {
		b.WriteString("\nTIMELINE\n\n")
		for _, u := range utterances {
			fmt.Fprintf(&b, "[%s - %s] %s: %s\n",
				formatDuration(u.StartMS), formatDuration(u.EndMS), u.Speaker, u.Text)
		}
	}
	return b.String()
}

func formatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes >= 60 {
		return fmt.Sprintf("%dh%02dm%02ds", minutes/60, minutes%60, seconds)
	}
	return fmt.Sprintf("%dm%02ds", minutes, seconds)
}
