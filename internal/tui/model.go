// Package tui provides an interactive browser over stored replay runs.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/dustin/go-humanize"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
	"github.com/evanschultz/gossiptrace/internal/report"
)

// Service is the read surface the browser needs.
type Service interface {
	ListRuns(context.Context, ...string) ([]domain.Run, error)
	ListRecords(context.Context, string, app.RecordFilter) ([]domain.PropagationRecord, error)
	Summarize(context.Context, app.SummaryInput) ([]app.VariantSummary, error)
}

// viewMode selects the main pane.
type viewMode int

const (
	modeRuns viewMode = iota
	modeVariants
)

const defaultPendingLimit = 50

// Model is the bubbletea model of the run browser.
type Model struct {
	svc          Service
	keys         keyMap
	help         help.Model
	markdown     *markdownRenderer
	now          func() time.Time
	pendingLimit int
	settle       float64

	ready  bool
	width  int
	height int
	err    error
	status string
	mode   viewMode

	runs        []domain.Run
	selected    int
	showPending bool
	detail      runDetail
	variants    []app.VariantSummary
}

// runDetail is the lazily loaded detail of the selected run.
type runDetail struct {
	runID   string
	summary *app.VariantSummary
	pending []domain.PropagationRecord
	err     error
}

// runsLoadedMsg carries the stored run list.
type runsLoadedMsg struct {
	runs []domain.Run
	err  error
}

// detailLoadedMsg carries one run's latency summary and pending records.
type detailLoadedMsg struct {
	detail runDetail
}

// variantsLoadedMsg carries the per-variant summary.
type variantsLoadedMsg struct {
	summaries []app.VariantSummary
	err       error
}

// NewModel constructs a run browser over svc.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:          svc,
		keys:         newKeyMap(),
		help:         h,
		markdown:     &markdownRenderer{},
		now:          time.Now,
		pendingLimit: defaultPendingLimit,
		status:       "loading...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init loads the run list.
func (m Model) Init() tea.Cmd {
	return m.loadRuns
}

// Update handles messages and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case runsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.runs = msg.runs
		m.selected = clamp(m.selected, 0, len(m.runs)-1)
		if len(m.runs) == 0 {
			m.status = "no runs yet: replay a trace first"
			return m, nil
		}
		m.status = fmt.Sprintf("%d runs", len(m.runs))
		return m, m.loadDetail(m.runs[m.selected].ID)

	case detailLoadedMsg:
		if run, ok := m.selectedRun(); ok && run.ID == msg.detail.runID {
			m.detail = msg.detail
		}
		return m, nil

	case variantsLoadedMsg:
		if msg.err != nil {
			m.status = "summary failed: " + msg.err.Error()
			return m, nil
		}
		m.variants = msg.summaries
		m.status = fmt.Sprintf("%d variants", len(m.variants))
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	default:
		return m, nil
	}
}

// handleKey dispatches one key press.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		if m.mode == modeVariants {
			return m, tea.Batch(m.loadRuns, m.loadVariants)
		}
		return m, m.loadRuns
	case key.Matches(msg, m.keys.variants):
		if m.mode == modeVariants {
			m.mode = modeRuns
			return m, nil
		}
		m.mode = modeVariants
		m.status = "summarizing..."
		return m, m.loadVariants
	case key.Matches(msg, m.keys.back):
		m.mode = modeRuns
		m.showPending = false
		return m, nil
	}
	if m.mode != modeRuns || len(m.runs) == 0 {
		return m, nil
	}

	prev := m.selected
	switch {
	case key.Matches(msg, m.keys.moveUp):
		m.selected--
	case key.Matches(msg, m.keys.moveDown):
		m.selected++
	case key.Matches(msg, m.keys.first):
		m.selected = 0
	case key.Matches(msg, m.keys.last):
		m.selected = len(m.runs) - 1
	case key.Matches(msg, m.keys.togglePending):
		m.showPending = !m.showPending
		return m, nil
	default:
		return m, nil
	}
	m.selected = clamp(m.selected, 0, len(m.runs)-1)
	if m.selected == prev {
		return m, nil
	}
	m.detail = runDetail{}
	return m, m.loadDetail(m.runs[m.selected].ID)
}

// loadRuns fetches every stored run.
func (m Model) loadRuns() tea.Msg {
	runs, err := m.svc.ListRuns(context.Background())
	return runsLoadedMsg{runs: runs, err: err}
}

// loadDetail fetches the latency summary and pending records of one run.
func (m Model) loadDetail(runID string) tea.Cmd {
	svc, limit, settle := m.svc, m.pendingLimit, domain.Tick(m.settle)
	return func() tea.Msg {
		ctx := context.Background()
		detail := runDetail{runID: runID}
		summaries, err := svc.Summarize(ctx, app.SummaryInput{RunIDs: []string{runID}, SettleWindow: &settle})
		if err != nil {
			detail.err = err
			return detailLoadedMsg{detail: detail}
		}
		if len(summaries) > 0 {
			detail.summary = &summaries[0]
		}
		detail.pending, detail.err = svc.ListRecords(ctx, runID, app.RecordFilter{PendingOnly: true, Limit: limit})
		return detailLoadedMsg{detail: detail}
	}
}

// loadVariants fetches the summary of every completed run grouped by variant.
func (m Model) loadVariants() tea.Msg {
	settle := domain.Tick(m.settle)
	summaries, err := m.svc.Summarize(context.Background(), app.SummaryInput{SettleWindow: &settle})
	return variantsLoadedMsg{summaries: summaries, err: err}
}

func (m Model) selectedRun() (domain.Run, bool) {
	if len(m.runs) == 0 {
		return domain.Run{}, false
	}
	return m.runs[clamp(m.selected, 0, len(m.runs)-1)], true
}

var (
	accentColor = lipgloss.Color("62")
	mutedColor  = lipgloss.Color("241")
	dimColor    = lipgloss.Color("239")
	failColor   = lipgloss.Color("203")
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	labelStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	statusStyle = lipgloss.NewStyle().Foreground(dimColor)
)

// View renders the browser.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render builds the full screen content for the current state.
func (m Model) render() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.ready {
		return "loading..."
	}

	var body string
	switch m.mode {
	case modeVariants:
		body = m.renderVariants()
	default:
		body = m.renderRuns()
	}

	helpBubble := m.help
	helpBubble.SetWidth(max(0, m.width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(mutedColor).
		BorderTop(true).
		BorderForeground(dimColor).
		Padding(0, 1).
		Width(max(0, m.width)).
		Render(helpBubble.View(m.keys))

	header := titleStyle.Render("gossiptrace") + "  " + statusStyle.Render(m.status)
	content := header + "\n\n" + body
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

// renderRuns renders the run list beside the selected run's detail.
func (m Model) renderRuns() string {
	if len(m.runs) == 0 {
		return "No runs yet.\nRun `gossiptrace replay --trace FILE --variant LABEL` first."
	}
	listWidth := max(30, m.width/2-2)
	lines := make([]string, 0, len(m.runs))
	for i, run := range m.runs {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == m.selected {
			cursor = "> "
			style = style.Bold(true).Foreground(accentColor)
		}
		if run.Status == domain.RunStatusFailed {
			style = style.Foreground(failColor)
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s%s  %s  %s", cursor, shortID(run.ID), run.Variant, run.Status)))
	}
	list := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(0, 1).
		Width(listWidth).
		Render(strings.Join(lines, "\n"))

	detail := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(dimColor).
		Padding(0, 1).
		Width(max(30, m.width-listWidth-2)).
		Render(m.renderDetail())
	return lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
}

// renderDetail renders totals, latency and optionally pending records of the selected run.
func (m Model) renderDetail() string {
	run, ok := m.selectedRun()
	if !ok {
		return ""
	}
	row := func(label, value string) string {
		return labelStyle.Render(fmt.Sprintf("%-11s", label)) + value
	}
	lines := []string{
		titleStyle.Render(run.Variant),
		row("run", run.ID),
		row("trace", orDash(run.TracePath)+" ("+orDash(run.Format)+")"),
		row("status", string(run.Status)),
		row("started", humanize.RelTime(run.StartedAt, m.now(), "ago", "from now")),
		row("events", humanize.Comma(int64(run.EventCount))),
		row("stale", humanize.Comma(int64(run.StaleStores))),
		row("records", fmt.Sprintf("%s (%s completed)", humanize.Comma(int64(run.RecordCount)), humanize.Comma(int64(run.CompletedCount)))),
		row("last tick", fmt.Sprintf("%.3f", float64(run.LastTick))),
	}
	if run.Error != "" {
		lines = append(lines, lipgloss.NewStyle().Foreground(failColor).Render("error: "+run.Error))
	}
	lines = append(lines, "")

	switch {
	case m.detail.runID != run.ID:
		lines = append(lines, statusStyle.Render("loading latency..."))
	case m.detail.err != nil:
		lines = append(lines, "latency unavailable: "+m.detail.err.Error())
	case m.detail.summary == nil:
		lines = append(lines, statusStyle.Render("no completed records"))
	default:
		lat := m.detail.summary.Latency
		lines = append(lines,
			row("latency", fmt.Sprintf("mean %.3f  std %.3f", lat.Mean, lat.Std)),
			row("range", fmt.Sprintf("%.3f .. %.3f", lat.Min, lat.Max)),
		)
		for _, q := range lat.Quantiles {
			lines = append(lines, row("p"+strconv.FormatFloat(q.Q*100, 'g', 6, 64), fmt.Sprintf("%.3f", q.Value)))
		}
		if m.detail.summary.Settling > 0 {
			lines = append(lines, row("settling", fmt.Sprint(m.detail.summary.Settling)))
		}
	}

	if m.showPending && m.detail.runID == run.ID {
		lines = append(lines, "", titleStyle.Render(fmt.Sprintf("pending (%d shown)", len(m.detail.pending))))
		for _, rec := range m.detail.pending {
			lines = append(lines, fmt.Sprintf("%s@%d  owner %s  first seen %.3f", rec.Item, rec.Version, rec.Owner, float64(rec.FirstSeen)))
		}
	}
	return strings.Join(lines, "\n")
}

// renderVariants renders the per-variant latency table through glamour.
func (m Model) renderVariants() string {
	if len(m.variants) == 0 {
		return statusStyle.Render("no completed runs to summarize")
	}
	return m.markdown.render(report.SummaryMarkdown(m.variants), max(40, m.width-4))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// clamp bounds v to [minV, maxV], preferring minV when the range is empty.
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

// fitLines truncates or pads content to exactly maxLines lines.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		padding := make([]string, maxLines-len(lines))
		lines = append(lines, padding...)
	}
	return strings.Join(lines, "\n")
}
