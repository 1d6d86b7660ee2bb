package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
)

type fakeService struct {
	runs       []domain.Run
	records    map[string][]domain.PropagationRecord
	summaries  []app.VariantSummary
	err        error
	summaryErr error

	lastFilter app.RecordFilter
	lastInput  app.SummaryInput
}

func newFakeService(runs ...domain.Run) *fakeService {
	return &fakeService{runs: runs, records: map[string][]domain.PropagationRecord{}}
}

func (f *fakeService) ListRuns(_ context.Context, variants ...string) ([]domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Run, 0, len(f.runs))
	for _, run := range f.runs {
		if len(variants) > 0 && run.Variant != variants[0] {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeService) ListRecords(_ context.Context, runID string, filter app.RecordFilter) ([]domain.PropagationRecord, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.PropagationRecord{}
	for _, rec := range f.records[runID] {
		if filter.PendingOnly && rec.Completed() {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeService) Summarize(_ context.Context, in app.SummaryInput) ([]app.VariantSummary, error) {
	f.lastInput = in
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	if len(in.RunIDs) == 0 {
		return f.summaries, nil
	}
	for _, run := range f.runs {
		if run.ID == in.RunIDs[0] {
			return []app.VariantSummary{{
				Variant: run.Variant, Runs: 1, Records: run.RecordCount, Completed: run.CompletedCount,
				Latency: app.LatencyStats{Count: run.CompletedCount, Mean: 4.25, Min: 1, Max: 9,
					Quantiles: []app.QuantileValue{{Q: 0.5, Value: 4}, {Q: 0.999, Value: 9}}},
			}}, nil
		}
	}
	return nil, nil
}

func sampleRuns(now time.Time) []domain.Run {
	finished := now.Add(-time.Minute)
	return []domain.Run{
		{ID: "run-1", Variant: "5 followers", TracePath: "a.csv", Format: "ssb", Status: domain.RunStatusCompleted,
			EventCount: 1200, RecordCount: 3, CompletedCount: 2, LastTick: 40, StartedAt: now.Add(-time.Hour), FinishedAt: &finished},
		{ID: "run-2", Variant: "10 followers", TracePath: "b.csv", Format: "ssb", Status: domain.RunStatusFailed,
			Error: "event 7: tick went backwards", StartedAt: now.Add(-2 * time.Hour), FinishedAt: &finished},
	}
}

func TestModelLoadAndNavigation(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := newFakeService(sampleRuns(now)...)
	m := loadReadyModel(t, NewModel(svc, WithClock(func() time.Time { return now })))

	if len(m.runs) != 2 || m.selected != 0 {
		t.Fatalf("unexpected loaded model: runs=%d selected=%d", len(m.runs), m.selected)
	}
	if m.detail.runID != "run-1" || m.detail.summary == nil {
		t.Fatalf("expected detail for run-1, got %#v", m.detail)
	}
	out := m.render()
	for _, want := range []string{"run-1", "5 followers", "1,200", "1 hour ago", "p50", "p99.9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in view, got %q", want, out)
		}
	}

	m = applyMsg(t, m, keyRune('j'))
	if m.selected != 1 || m.detail.runID != "run-2" {
		t.Fatalf("expected run-2 selected and loaded, got selected=%d detail=%q", m.selected, m.detail.runID)
	}
	if !strings.Contains(m.render(), "tick went backwards") {
		t.Fatal("expected failed run error in detail pane")
	}

	m = applyMsg(t, m, keyRune('j'))
	if m.selected != 1 {
		t.Fatalf("expected selection clamped at last run, got %d", m.selected)
	}
	m = applyMsg(t, m, keyRune('g'))
	if m.selected != 0 {
		t.Fatalf("expected first run after g, got %d", m.selected)
	}
	m = applyMsg(t, m, keyRune('G'))
	if m.selected != 1 {
		t.Fatalf("expected last run after G, got %d", m.selected)
	}
	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyUp})
	if m.selected != 0 {
		t.Fatalf("expected up arrow to move selection, got %d", m.selected)
	}
}

func TestModelPendingRecords(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := newFakeService(sampleRuns(now)...)
	done := domain.Tick(12)
	svc.records["run-1"] = []domain.PropagationRecord{
		{Item: "feed-a", Owner: "feed-a", Version: 1, FirstSeen: 3, CompletedAt: &done},
		{Item: "feed-b", Owner: "feed-b", Version: 4, FirstSeen: 7.5},
		{Item: "feed-c", Owner: "feed-c", Version: 2, FirstSeen: 8},
	}
	m := loadReadyModel(t, NewModel(svc, WithPendingLimit(1)))
	if !svc.lastFilter.PendingOnly || svc.lastFilter.Limit != 1 {
		t.Fatalf("expected pending-only filter with limit 1, got %#v", svc.lastFilter)
	}
	if strings.Contains(m.render(), "feed-b@4") {
		t.Fatal("expected pending records hidden until toggled")
	}

	m = applyMsg(t, m, keyRune('p'))
	out := m.render()
	if !m.showPending || !strings.Contains(out, "feed-b@4") || strings.Contains(out, "feed-c@2") {
		t.Fatalf("expected one pending record shown, got %q", out)
	}

	m = applyMsg(t, m, tea.KeyPressMsg{Code: tea.KeyEscape})
	if m.showPending {
		t.Fatal("expected esc to hide pending records")
	}
}

func TestModelVariantSummary(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := newFakeService(sampleRuns(now)...)
	svc.summaries = []app.VariantSummary{
		{Variant: "5 followers", Runs: 1, Records: 3, Completed: 2, Latency: app.LatencyStats{Count: 2, Mean: 4}},
	}
	m := loadReadyModel(t, NewModel(svc, WithSettleWindow(15)))
	if svc.lastInput.SettleWindow == nil || *svc.lastInput.SettleWindow != 15 {
		t.Fatalf("expected settle window forwarded, got %#v", svc.lastInput.SettleWindow)
	}

	m = applyMsg(t, m, keyRune('s'))
	if m.mode != modeVariants || len(m.variants) != 1 {
		t.Fatalf("expected variant mode with one summary, got mode=%d variants=%d", m.mode, len(m.variants))
	}
	if len(svc.lastInput.RunIDs) != 0 {
		t.Fatalf("expected summary across all runs, got %#v", svc.lastInput.RunIDs)
	}
	if !strings.Contains(m.render(), "followers") {
		t.Fatalf("expected rendered variant table, got %q", m.render())
	}

	m = applyMsg(t, m, keyRune('j'))
	if m.selected != 0 {
		t.Fatal("expected navigation ignored in variant mode")
	}
	m = applyMsg(t, m, keyRune('s'))
	if m.mode != modeRuns {
		t.Fatal("expected s to toggle back to runs")
	}

	svc.summaryErr = errors.New("boom")
	m = applyMsg(t, m, keyRune('s'))
	if !strings.Contains(m.status, "summary failed: boom") {
		t.Fatalf("expected summary failure status, got %q", m.status)
	}
}

func TestModelEmptyAndErrorStates(t *testing.T) {
	m := NewModel(newFakeService())
	if m.render() != "loading..." {
		t.Fatalf("expected loading view, got %q", m.render())
	}
	m = loadReadyModel(t, m)
	if !strings.Contains(m.render(), "No runs yet") {
		t.Fatalf("expected empty-state hint, got %q", m.render())
	}
	if m.status != "no runs yet: replay a trace first" {
		t.Fatalf("unexpected empty status %q", m.status)
	}

	svc := newFakeService()
	svc.err = context.DeadlineExceeded
	m = loadReadyModel(t, NewModel(svc))
	if !strings.Contains(m.render(), "error: context deadline exceeded") {
		t.Fatalf("expected error view, got %q", m.render())
	}

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc.err = nil
	svc.runs = sampleRuns(now)
	m = applyMsg(t, m, keyRune('r'))
	if m.err != nil || len(m.runs) != 2 {
		t.Fatalf("expected reload to recover, got err=%v runs=%d", m.err, len(m.runs))
	}
}

func TestModelDetailErrorAndStaleDetail(t *testing.T) {
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := newFakeService(sampleRuns(now)...)
	svc.summaryErr = errors.New("db closed")
	m := loadReadyModel(t, NewModel(svc))
	if !strings.Contains(m.render(), "latency unavailable: db closed") {
		t.Fatalf("expected detail error, got %q", m.render())
	}

	m = applyMsg(t, m, detailLoadedMsg{detail: runDetail{runID: "run-2"}})
	if m.detail.runID != "run-1" {
		t.Fatalf("expected stale detail for unselected run ignored, got %q", m.detail.runID)
	}
}

func TestModelQuitKey(t *testing.T) {
	m := NewModel(newFakeService())
	updated, cmd := m.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	if updated == nil {
		t.Fatal("expected model return value")
	}
	if cmd == nil {
		t.Fatal("expected quit cmd")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestModelHelpToggle(t *testing.T) {
	m := loadReadyModel(t, NewModel(newFakeService()))
	if strings.Contains(m.render(), "first run") {
		t.Fatal("expected compact help by default")
	}
	m = applyMsg(t, m, keyRune('?'))
	if !m.help.ShowAll || !strings.Contains(m.render(), "first run") {
		t.Fatal("expected full help after ?")
	}
}

func TestHelpers(t *testing.T) {
	if clamp(5, 0, 3) != 3 || clamp(-1, 0, 3) != 0 || clamp(2, 0, -1) != 0 {
		t.Fatal("unexpected clamp results")
	}
	if got := fitLines("a\nb\nc", 2); got != "a\n…" {
		t.Fatalf("unexpected truncated lines %q", got)
	}
	if got := fitLines("a", 3); got != "a\n\n" {
		t.Fatalf("unexpected padded lines %q", got)
	}
	if fitLines("a", 0) != "" {
		t.Fatal("expected empty output for zero lines")
	}
	if shortID("0123456789") != "01234567" || shortID("abc") != "abc" {
		t.Fatal("unexpected shortID results")
	}
	if orDash(" ") != "-" || orDash("x") != "x" {
		t.Fatal("unexpected orDash results")
	}
}

func loadReadyModel(t *testing.T, m Model) Model {
	t.Helper()
	return applyMsg(t, applyCmd(t, m, m.Init()), tea.WindowSizeMsg{Width: 120, Height: 40})
}

func applyMsg(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, cmd := m.Update(msg)
	out, ok := updated.(Model)
	if !ok {
		t.Fatalf("expected Model, got %T", updated)
	}
	return applyCmd(t, out, cmd)
}

func applyCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	out := m
	currentCmd := cmd
	for i := 0; i < 6 && currentCmd != nil; i++ {
		msg := currentCmd()
		updated, nextCmd := out.Update(msg)
		casted, ok := updated.(Model)
		if !ok {
			t.Fatalf("expected Model, got %T", updated)
		}
		out = casted
		currentCmd = nextCmd
	}
	return out
}

func keyRune(r rune) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: r, Text: string(r)}
}
