package common

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanschultz/gossiptrace/internal/adapters/storage/sqlite"
	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
)

// newSeededAdapter replays one small trace into a temp database.
func newSeededAdapter(t *testing.T) (*AppServiceAdapter, string) {
	t.Helper()
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "gossiptrace.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	svc := app.NewService(repo, func() string { return "run-1" }, func() time.Time { return now }, app.ServiceConfig{})
	result, err := svc.Replay(context.Background(), app.ReplayInput{
		Variant: "5 followers each",
		Events: func(yield func(domain.Event, error) bool) {
			for _, ev := range []domain.Event{
				domain.FollowEvent(0, "1", "O"),
				domain.StoreEvent(0, "O", "X", 1),
				domain.StoreEvent(4, "1", "X", 1),
				domain.StoreEvent(6, "O", "Y", 1),
			} {
				if !yield(ev, nil) {
					return
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	return NewAppServiceAdapter(svc), result.Run.ID
}

// TestAppServiceAdapterRunsAndRecords verifies behavior for the covered scenario.
func TestAppServiceAdapterRunsAndRecords(t *testing.T) {
	adapter, runID := newSeededAdapter(t)
	ctx := context.Background()

	runs, err := adapter.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "completed" || runs[0].PendingCount != 1 || runs[0].LastTick != 6 {
		t.Fatalf("unexpected runs %#v", runs)
	}

	run, err := adapter.GetRun(ctx, " "+runID+" ")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Variant != "5 followers each" {
		t.Fatalf("unexpected run %#v", run)
	}

	records, err := adapter.ListRecords(ctx, ListRecordsRequest{RunID: runID, State: "COMPLETED"})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].Item != "X" || records[0].Latency == nil || *records[0].Latency != 4 {
		t.Fatalf("unexpected completed records %#v", records)
	}
	pending, err := adapter.ListRecords(ctx, ListRecordsRequest{RunID: runID, State: RecordStatePending})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Item != "Y" || pending[0].CompletedAt != nil {
		t.Fatalf("unexpected pending records %#v", pending)
	}
}

// TestAppServiceAdapterSummarize verifies behavior for the covered scenario.
func TestAppServiceAdapterSummarize(t *testing.T) {
	adapter, _ := newSeededAdapter(t)
	settle := 0.0
	summaries, err := adapter.Summarize(context.Background(), SummaryRequest{Settle: &settle, Quantiles: []float64{0.5}})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].Completed != 1 || summaries[0].Pending != 1 || summaries[0].Mean != 4 {
		t.Fatalf("unexpected summaries %#v", summaries)
	}
	if len(summaries[0].Quantiles) != 1 || summaries[0].Quantiles[0].Value != 4 {
		t.Fatalf("unexpected quantiles %#v", summaries[0].Quantiles)
	}

	_, err = adapter.Summarize(context.Background(), SummaryRequest{Quantiles: []float64{2}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

// TestAppServiceAdapterErrors verifies behavior for the covered scenario.
func TestAppServiceAdapterErrors(t *testing.T) {
	adapter, runID := newSeededAdapter(t)
	ctx := context.Background()
	if _, err := adapter.GetRun(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := adapter.GetRun(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := adapter.ListRecords(ctx, ListRecordsRequest{RunID: runID, State: "open"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := adapter.ListRecords(ctx, ListRecordsRequest{RunID: runID, Limit: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	var nilAdapter *AppServiceAdapter
	if _, err := nilAdapter.ListRuns(ctx, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestSupportedRecordStatesReturnsCopy verifies callers cannot mutate the canonical list.
func TestSupportedRecordStatesReturnsCopy(t *testing.T) {
	states := SupportedRecordStates()
	states[0] = "mutated"
	if SupportedRecordStates()[0] != RecordStateAll {
		t.Fatal("expected canonical states to be unaffected")
	}
}
