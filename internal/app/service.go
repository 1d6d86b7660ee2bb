package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evanschultz/gossiptrace/internal/domain"
	"github.com/evanschultz/gossiptrace/internal/replay"
)

// Default service tuning values.
const (
	DefaultBatchSize = 500
)

// DefaultQuantiles are reported when a summary does not ask for specific ones.
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	BatchSize    int
	SettleWindow domain.Tick
	Quantiles    []float64
	Logger       Logger
	Tracer       trace.Tracer
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service replays traces into persisted runs and summarizes them.
type Service struct {
	repo      Repository
	idGen     IDGenerator
	clock     Clock
	logger    Logger
	tracer    trace.Tracer
	batchSize int
	settle    domain.Tick
	quantiles []float64
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("gossiptrace/app")
	}
	quantiles := append([]float64(nil), cfg.Quantiles...)
	if len(quantiles) == 0 {
		quantiles = append(quantiles, DefaultQuantiles...)
	}
	return &Service{
		repo:      repo,
		idGen:     idGen,
		clock:     clock,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		batchSize: cfg.BatchSize,
		settle:    cfg.SettleWindow,
		quantiles: quantiles,
	}
}

// ReplayInput holds input values for replay operations.
type ReplayInput struct {
	Variant   string
	TracePath string
	Format    string
	Events    iter.Seq2[domain.Event, error]
	// OnComplete observes every finalized record as soon as it is emitted.
	OnComplete func(domain.PropagationRecord) error
}

// ReplayResult describes one finished replay.
type ReplayResult struct {
	Run     domain.Run
	Stats   replay.Stats
	Pending []domain.PropagationRecord
}

// Replay folds one trace into a new run. Every creation and completion update
// is persisted in batches. A failing replay still persists its run, marked
// failed with the cause, and returns the cause.
func (s *Service) Replay(ctx context.Context, in ReplayInput) (ReplayResult, error) {
	if in.Events == nil {
		return ReplayResult{}, fmt.Errorf("%w: events are required", ErrInvalidInput)
	}
	run, err := domain.NewRun(domain.RunInput{
		ID:        s.idGen(),
		Variant:   in.Variant,
		TracePath: in.TracePath,
		Format:    in.Format,
	}, s.clock())
	if err != nil {
		return ReplayResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "replay.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.variant", run.Variant),
		attribute.String("trace.format", run.Format),
	))
	defer span.End()

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return ReplayResult{}, fmt.Errorf("create run: %w", err)
	}
	s.logger.Info("replay started", "run", run.ID, "variant", run.Variant, "trace", run.TracePath)

	replayer := replay.New()
	runErr := s.fold(ctx, run.ID, replayer, in)
	stats := replayer.Stats()
	totals := domain.RunTotals{
		EventCount:     stats.Events,
		StaleStores:    stats.StaleStores,
		RecordCount:    stats.Opened,
		CompletedCount: stats.Completed,
		LastTick:       stats.LastTick,
	}
	span.SetAttributes(
		attribute.Int("replay.events", stats.Events),
		attribute.Int("replay.records", stats.Opened),
		attribute.Int("replay.completed", stats.Completed),
	)
	result := ReplayResult{Stats: stats, Pending: replayer.Pending()}

	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		span.RecordError(runErr)
		if err := run.Fail(totals, runErr, s.clock()); err != nil {
			return ReplayResult{}, err
		}
		result.Run = run
		s.logger.Error("replay failed", "run", run.ID, "events", stats.Events, "err", runErr)
		if err := s.repo.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			return result, errors.Join(runErr, fmt.Errorf("mark run failed: %w", err))
		}
		return result, runErr
	}

	if err := run.Complete(totals, s.clock()); err != nil {
		return ReplayResult{}, err
	}
	result.Run = run
	if err := s.repo.UpdateRun(ctx, run); err != nil {
		return result, fmt.Errorf("complete run: %w", err)
	}
	if stats.StaleStores > 0 || stats.GraphNoops > 0 {
		s.logger.Debug("tolerated trace noise", "run", run.ID, "stale_stores", stats.StaleStores, "graph_noops", stats.GraphNoops)
	}
	s.logger.Info("replay finished",
		"run", run.ID,
		"events", stats.Events,
		"records", stats.Opened,
		"completed", stats.Completed,
		"pending", len(result.Pending),
		"last_tick", stats.LastTick,
	)
	return result, nil
}

// fold drives the replayer and flushes record updates in batches. On failure
// the pending batch is still flushed, detached from ctx cancellation, so every
// record already handed to OnComplete is also stored.
func (s *Service) fold(ctx context.Context, runID string, replayer *replay.Replayer, in ReplayInput) error {
	batch := make([]domain.PropagationRecord, 0, s.batchSize)
	flush := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.repo.UpsertRecords(ctx, runID, batch); err != nil {
			return fmt.Errorf("persist records: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	abort := func(err error) error {
		return errors.Join(err, flush(context.WithoutCancel(ctx)))
	}

	for ev, err := range in.Events {
		if err != nil {
			return abort(err)
		}
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		updates, err := replayer.Apply(ev)
		if err != nil {
			return abort(err)
		}
		for _, update := range updates {
			batch = append(batch, update)
			if update.Completed() && in.OnComplete != nil {
				if err := in.OnComplete(update); err != nil {
					return abort(fmt.Errorf("emit record %s@%d: %w", update.Item, update.Version, err))
				}
			}
		}
		if len(batch) >= s.batchSize {
			if err := flush(ctx); err != nil {
				return err
			}
		}
	}
	return flush(ctx)
}

// ListRuns lists stored runs, optionally restricted to the given variants.
func (s *Service) ListRuns(ctx context.Context, variants ...string) ([]domain.Run, error) {
	runs, err := s.repo.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	wanted := normalizeLabels(variants)
	if len(wanted) == 0 {
		return runs, nil
	}
	out := make([]domain.Run, 0, len(runs))
	for _, run := range runs {
		if _, ok := wanted[run.Variant]; ok {
			out = append(out, run)
		}
	}
	return out, nil
}

// GetRun returns one stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, domain.ErrInvalidID
	}
	return s.repo.GetRun(ctx, runID)
}

// ListRecords lists the records of one run.
func (s *Service) ListRecords(ctx context.Context, runID string, filter RecordFilter) ([]domain.PropagationRecord, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if filter.PendingOnly && filter.CompletedOnly {
		return nil, fmt.Errorf("%w: pending and completed filters are exclusive", ErrInvalidInput)
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return s.repo.ListRecords(ctx, run.ID, filter)
}

func normalizeLabels(labels []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label != "" {
			out[label] = struct{}{}
		}
	}
	return out
}
