package common

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/app"
	"github.com/evanschultz/gossiptrace/internal/domain"
)

// maxRecordLimit caps one records page so transports never stream a whole run by accident.
const maxRecordLimit = 5000

// AppServiceAdapter maps transport contracts onto app.Service read APIs.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListRuns lists stored runs, optionally filtered by variant.
func (a *AppServiceAdapter) ListRuns(ctx context.Context, variants []string) ([]RunView, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	runs, err := a.service.ListRuns(ctx, variants...)
	if err != nil {
		return nil, mapAppError("list runs", err)
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, mapRun(run))
	}
	return out, nil
}

// GetRun returns one stored run.
func (a *AppServiceAdapter) GetRun(ctx context.Context, runID string) (RunView, error) {
	if a == nil || a.service == nil {
		return RunView{}, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return RunView{}, fmt.Errorf("run_id is required: %w", ErrInvalidRequest)
	}
	run, err := a.service.GetRun(ctx, runID)
	if err != nil {
		return RunView{}, mapAppError("get run", err)
	}
	return mapRun(run), nil
}

// ListRecords lists the records of one run.
func (a *AppServiceAdapter) ListRecords(ctx context.Context, in ListRecordsRequest) ([]RecordView, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	req, err := normalizeListRecordsRequest(in)
	if err != nil {
		return nil, err
	}
	records, err := a.service.ListRecords(ctx, req.RunID, app.RecordFilter{
		PendingOnly:   req.State == RecordStatePending,
		CompletedOnly: req.State == RecordStateCompleted,
		Limit:         req.Limit,
	})
	if err != nil {
		return nil, mapAppError("list records", err)
	}
	out := make([]RecordView, 0, len(records))
	for _, rec := range records {
		out = append(out, mapRecord(rec))
	}
	return out, nil
}

// Summarize computes latency summaries grouped by variant.
func (a *AppServiceAdapter) Summarize(ctx context.Context, in SummaryRequest) ([]VariantSummary, error) {
	if a == nil || a.service == nil {
		return nil, fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	input := app.SummaryInput{
		RunIDs:    trimNonEmpty(in.RunIDs),
		Variants:  trimNonEmpty(in.Variants),
		Quantiles: in.Quantiles,
	}
	if in.Settle != nil {
		settle := domain.Tick(*in.Settle)
		input.SettleWindow = &settle
	}
	summaries, err := a.service.Summarize(ctx, input)
	if err != nil {
		return nil, mapAppError("summarize", err)
	}
	return MapSummaries(summaries), nil
}

// MapSummaries converts app summaries into transport views.
func MapSummaries(in []app.VariantSummary) []VariantSummary {
	out := make([]VariantSummary, 0, len(in))
	for _, s := range in {
		view := VariantSummary{
			Variant:   s.Variant,
			Runs:      s.Runs,
			Records:   s.Records,
			Completed: s.Completed,
			Pending:   s.Pending,
			Settling:  s.Settling,
			Mean:      s.Latency.Mean,
			Std:       s.Latency.Std,
			Min:       s.Latency.Min,
			Max:       s.Latency.Max,
			Quantiles: make([]QuantileView, 0, len(s.Latency.Quantiles)),
		}
		for _, q := range s.Latency.Quantiles {
			view.Quantiles = append(view.Quantiles, QuantileView{Q: q.Q, Value: q.Value})
		}
		out = append(out, view)
	}
	return out
}

// normalizeListRecordsRequest validates and canonicalizes record list input.
func normalizeListRecordsRequest(in ListRecordsRequest) (ListRecordsRequest, error) {
	in.RunID = strings.TrimSpace(in.RunID)
	if in.RunID == "" {
		return ListRecordsRequest{}, fmt.Errorf("run_id is required: %w", ErrInvalidRequest)
	}
	in.State = strings.ToLower(strings.TrimSpace(in.State))
	if in.State == "" {
		in.State = RecordStateAll
	}
	if !slices.Contains(supportedRecordStates, in.State) {
		return ListRecordsRequest{}, fmt.Errorf("state %q is unsupported: %w", in.State, ErrInvalidRequest)
	}
	if in.Limit < 0 {
		return ListRecordsRequest{}, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	}
	if in.Limit == 0 || in.Limit > maxRecordLimit {
		in.Limit = maxRecordLimit
	}
	return in, nil
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mapRun(run domain.Run) RunView {
	return RunView{
		ID:             run.ID,
		Variant:        run.Variant,
		TracePath:      run.TracePath,
		Format:         run.Format,
		Status:         string(run.Status),
		EventCount:     run.EventCount,
		StaleStores:    run.StaleStores,
		RecordCount:    run.RecordCount,
		CompletedCount: run.CompletedCount,
		PendingCount:   run.RecordCount - run.CompletedCount,
		LastTick:       float64(run.LastTick),
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

func mapRecord(rec domain.PropagationRecord) RecordView {
	view := RecordView{
		Item:      string(rec.Item),
		Owner:     string(rec.Owner),
		Version:   int64(rec.Version),
		FirstSeen: float64(rec.FirstSeen),
	}
	if latency, ok := rec.Latency(); ok {
		completed := float64(*rec.CompletedAt)
		l := float64(latency)
		view.CompletedAt = &completed
		view.Latency = &l
	}
	return view
}

// mapAppError maps app/domain errors into transport-facing error classes.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidVariant),
		errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrInvalidQuantile):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
