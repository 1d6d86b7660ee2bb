package domain

import (
	"slices"
	"strings"
	"time"
)

// RunStatus describes the lifecycle state of one replay run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

var validRunStatuses = []RunStatus{RunStatusRunning, RunStatusCompleted, RunStatusFailed}

// ParseRunStatus normalizes a persisted status value.
func ParseRunStatus(raw string) (RunStatus, error) {
	status := RunStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(validRunStatuses, status) {
		return "", ErrInvalidRunStatus
	}
	return status, nil
}

// Run is one replay of one trace under an experiment variant label.
type Run struct {
	ID             string
	Variant        string
	TracePath      string
	Format         string
	Status         RunStatus
	EventCount     int
	StaleStores    int
	RecordCount    int
	CompletedCount int
	LastTick       Tick
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RunInput holds the caller-supplied fields of a new run.
type RunInput struct {
	ID        string
	Variant   string
	TracePath string
	Format    string
}

// RunTotals carries the counters recorded when a run finishes.
type RunTotals struct {
	EventCount     int
	StaleStores    int
	RecordCount    int
	CompletedCount int
	LastTick       Tick
}

func NewRun(in RunInput, now time.Time) (Run, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Variant = strings.TrimSpace(in.Variant)
	in.TracePath = strings.TrimSpace(in.TracePath)
	in.Format = strings.TrimSpace(in.Format)
	if in.ID == "" {
		return Run{}, ErrInvalidID
	}
	if in.Variant == "" {
		return Run{}, ErrInvalidVariant
	}
	return Run{
		ID:        in.ID,
		Variant:   in.Variant,
		TracePath: in.TracePath,
		Format:    in.Format,
		Status:    RunStatusRunning,
		StartedAt: now.UTC(),
	}, nil
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool {
	return r.Status != RunStatusRunning
}

func (r *Run) Complete(totals RunTotals, now time.Time) error {
	if r.Finished() {
		return ErrRunAlreadyFinished
	}
	r.applyTotals(totals)
	r.Status = RunStatusCompleted
	r.Error = ""
	ts := now.UTC()
	r.FinishedAt = &ts
	return nil
}

func (r *Run) Fail(totals RunTotals, cause error, now time.Time) error {
	if r.Finished() {
		return ErrRunAlreadyFinished
	}
	r.applyTotals(totals)
	r.Status = RunStatusFailed
	if cause != nil {
		r.Error = cause.Error()
	}
	ts := now.UTC()
	r.FinishedAt = &ts
	return nil
}

func (r *Run) applyTotals(totals RunTotals) {
	r.EventCount = totals.EventCount
	r.StaleStores = totals.StaleStores
	r.RecordCount = totals.RecordCount
	r.CompletedCount = totals.CompletedCount
	r.LastTick = totals.LastTick
}
