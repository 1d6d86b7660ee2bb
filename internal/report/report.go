// Package report renders replay runs and latency summaries for terminals and files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
)

// Format selects one summary output layout.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ErrUnknownFormat reports an unsupported output format.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat normalizes a user-supplied format name. Empty means table.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatMarkdown, FormatCSV, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Options tunes terminal rendering.
type Options struct {
	// Styled renders markdown through glamour instead of emitting raw source.
	Styled bool
	// Width is the markdown wrap width; values below 40 fall back to 80.
	Width int
}

var (
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("203"))
)

// WriteSummaries writes variant summaries in the requested format.
func WriteSummaries(w io.Writer, format Format, summaries []app.VariantSummary, opts Options) error {
	switch format {
	case FormatTable, "":
		_, err := fmt.Fprintln(w, summaryTable(summaries).Render())
		return err
	case FormatMarkdown:
		md := SummaryMarkdown(summaries)
		if opts.Styled {
			rendered, err := renderMarkdown(md, opts.Width)
			if err != nil {
				return err
			}
			md = rendered
		}
		_, err := io.WriteString(w, md)
		return err
	case FormatCSV:
		return writeSummaryCSV(w, summaries)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// SummaryCSV returns the CSV rendering of summaries as one string.
func SummaryCSV(summaries []app.VariantSummary) (string, error) {
	var b strings.Builder
	if err := writeSummaryCSV(&b, summaries); err != nil {
		return "", err
	}
	return b.String(), nil
}

// SummaryMarkdown renders summaries as a GitHub-flavored markdown table.
func SummaryMarkdown(summaries []app.VariantSummary) string {
	header := summaryHeader(summaries)
	var b strings.Builder
	b.WriteString("## Propagation latency\n\n")
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, s := range summaries {
		b.WriteString("| " + strings.Join(summaryRow(s), " | ") + " |\n")
	}
	return b.String()
}

// WriteRuns writes a styled table of stored runs.
func WriteRuns(w io.Writer, runs []domain.Run, now time.Time) error {
	failed := map[int]bool{}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("ID", "Variant", "Status", "Events", "Records", "Completed", "Stale", "Last tick", "Started").
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failed[row]:
				return failedStyle
			default:
				return cellStyle
			}
		})
	for i, run := range runs {
		failed[i] = run.Status == domain.RunStatusFailed
		t.Row(
			run.ID,
			run.Variant,
			string(run.Status),
			humanize.Comma(int64(run.EventCount)),
			humanize.Comma(int64(run.RecordCount)),
			humanize.Comma(int64(run.CompletedCount)),
			humanize.Comma(int64(run.StaleStores)),
			formatFloat(float64(run.LastTick)),
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func summaryTable(summaries []app.VariantSummary) *table.Table {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(summaryHeader(summaries)...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, s := range summaries {
		t.Row(summaryRow(s)...)
	}
	return t
}

func writeSummaryCSV(w io.Writer, summaries []app.VariantSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader(summaries)); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := cw.Write(summaryRow(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// summaryHeader names the fixed columns plus one column per quantile of the
// first summary. Every summary of one call shares the same quantile list.
func summaryHeader(summaries []app.VariantSummary) []string {
	header := []string{"variant", "runs", "records", "completed", "pending", "settling", "mean", "std", "min", "max"}
	if len(summaries) > 0 {
		for _, q := range summaries[0].Latency.Quantiles {
			header = append(header, quantileLabel(q.Q))
		}
	}
	return header
}

func summaryRow(s app.VariantSummary) []string {
	row := []string{
		s.Variant,
		strconv.Itoa(s.Runs),
		strconv.Itoa(s.Records),
		strconv.Itoa(s.Completed),
		strconv.Itoa(s.Pending),
		strconv.Itoa(s.Settling),
		formatFloat(s.Latency.Mean),
		formatFloat(s.Latency.Std),
		formatFloat(s.Latency.Min),
		formatFloat(s.Latency.Max),
	}
	for _, q := range s.Latency.Quantiles {
		row = append(row, formatFloat(q.Value))
	}
	return row
}

// quantileLabel names a quantile column, e.g. 0.5 -> p50, 0.999 -> p99.9.
func quantileLabel(q float64) string {
	return "p" + strconv.FormatFloat(q*100, 'g', 6, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func renderMarkdown(md string, width int) (string, error) {
	if width < 40 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("configure markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}
