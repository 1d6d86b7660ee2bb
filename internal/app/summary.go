package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// SummaryInput holds input values for summary operations.
type SummaryInput struct {
	RunIDs   []string
	Variants []string
	// SettleWindow overrides the configured window when set.
	SettleWindow *domain.Tick
	Quantiles    []float64
}

// VariantSummary aggregates propagation latency over every run of one variant.
type VariantSummary struct {
	Variant   string       `json:"variant"`
	Runs      int          `json:"runs"`
	Records   int          `json:"records"`
	Completed int          `json:"completed"`
	Pending   int          `json:"pending"`
	Settling  int          `json:"settling"`
	Latency   LatencyStats `json:"latency"`
}

// Summarize groups latency statistics by variant. Only completed runs are
// included unless runs are named explicitly. Records first seen within the
// settle window before a run's last event are counted as settling and left
// out of the statistics, whether or not they completed.
func (s *Service) Summarize(ctx context.Context, in SummaryInput) ([]VariantSummary, error) {
	quantiles := in.Quantiles
	if len(quantiles) == 0 {
		quantiles = s.quantiles
	}
	if err := validateQuantiles(quantiles); err != nil {
		return nil, err
	}
	settle := s.settle
	if in.SettleWindow != nil {
		settle = *in.SettleWindow
	}
	if settle < 0 {
		return nil, fmt.Errorf("%w: settle window must be >= 0", ErrInvalidInput)
	}

	runs, err := s.summaryRuns(ctx, in)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		summary   VariantSummary
		latencies []float64
	}
	buckets := map[string]*bucket{}
	for _, run := range runs {
		b, ok := buckets[run.Variant]
		if !ok {
			b = &bucket{summary: VariantSummary{Variant: run.Variant}}
			buckets[run.Variant] = b
		}
		b.summary.Runs++

		records, err := s.repo.ListRecords(ctx, run.ID, RecordFilter{})
		if err != nil {
			return nil, fmt.Errorf("list records for run %s: %w", run.ID, err)
		}
		cutoff := run.LastTick - settle
		for _, rec := range records {
			b.summary.Records++
			if settle > 0 && rec.FirstSeen > cutoff {
				b.summary.Settling++
				continue
			}
			latency, ok := rec.Latency()
			if !ok {
				b.summary.Pending++
				continue
			}
			b.summary.Completed++
			b.latencies = append(b.latencies, float64(latency))
		}
	}

	out := make([]VariantSummary, 0, len(buckets))
	for _, b := range buckets {
		b.summary.Latency = describe(b.latencies, quantiles)
		out = append(out, b.summary)
	}
	slices.SortFunc(out, func(a, b VariantSummary) int {
		return strings.Compare(a.Variant, b.Variant)
	})
	return out, nil
}

func (s *Service) summaryRuns(ctx context.Context, in SummaryInput) ([]domain.Run, error) {
	if len(in.RunIDs) > 0 {
		out := make([]domain.Run, 0, len(in.RunIDs))
		for _, id := range in.RunIDs {
			run, err := s.GetRun(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("run %q: %w", id, err)
			}
			out = append(out, run)
		}
		return out, nil
	}
	runs, err := s.ListRuns(ctx, in.Variants...)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(runs, func(run domain.Run) bool {
		return run.Status != domain.RunStatusCompleted
	}), nil
}
