// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"
)

// RecordStateAll selects every record of a run.
const RecordStateAll = "all"

// RecordStatePending selects records whose audience never became complete.
const RecordStatePending = "pending"

// RecordStateCompleted selects finalized records.
const RecordStateCompleted = "completed"

// supportedRecordStates stores all transport-accepted state values in canonical order.
var supportedRecordStates = []string{
	RecordStateAll,
	RecordStatePending,
	RecordStateCompleted,
}

// SupportedRecordStates returns all canonical state values accepted by transport adapters.
func SupportedRecordStates() []string {
	return append([]string(nil), supportedRecordStates...)
}

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrUnavailable reports a backing service that is not configured.
var ErrUnavailable = errors.New("service unavailable")

// RunView is one stored replay run as seen by transport callers.
type RunView struct {
	ID             string     `json:"id"`
	Variant        string     `json:"variant"`
	TracePath      string     `json:"trace_path,omitempty"`
	Format         string     `json:"format,omitempty"`
	Status         string     `json:"status"`
	EventCount     int        `json:"event_count"`
	StaleStores    int        `json:"stale_stores"`
	RecordCount    int        `json:"record_count"`
	CompletedCount int        `json:"completed_count"`
	PendingCount   int        `json:"pending_count"`
	LastTick       float64    `json:"last_tick"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RecordView is one propagation record.
type RecordView struct {
	Item        string   `json:"item"`
	Owner       string   `json:"owner"`
	Version     int64    `json:"version"`
	FirstSeen   float64  `json:"first_seen"`
	CompletedAt *float64 `json:"completed_at,omitempty"`
	Latency     *float64 `json:"latency,omitempty"`
}

// ListRecordsRequest captures list query filters for one run's records.
type ListRecordsRequest struct {
	RunID string `json:"run_id"`
	State string `json:"state,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// SummaryRequest captures latency summary selection.
type SummaryRequest struct {
	RunIDs    []string  `json:"run_ids,omitempty"`
	Variants  []string  `json:"variants,omitempty"`
	Settle    *float64  `json:"settle,omitempty"`
	Quantiles []float64 `json:"quantiles,omitempty"`
}

// QuantileView is one latency quantile.
type QuantileView struct {
	Q     float64 `json:"q"`
	Value float64 `json:"value"`
}

// VariantSummary aggregates latency statistics for one experiment variant.
type VariantSummary struct {
	Variant   string         `json:"variant"`
	Runs      int            `json:"runs"`
	Records   int            `json:"records"`
	Completed int            `json:"completed"`
	Pending   int            `json:"pending"`
	Settling  int            `json:"settling"`
	Mean      float64        `json:"mean"`
	Std       float64        `json:"std"`
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Quantiles []QuantileView `json:"quantiles"`
}

// RunReader exposes read-only run, record and summary queries.
type RunReader interface {
	ListRuns(context.Context, []string) ([]RunView, error)
	GetRun(context.Context, string) (RunView, error)
	ListRecords(context.Context, ListRecordsRequest) ([]RecordView, error)
	Summarize(context.Context, SummaryRequest) ([]VariantSummary, error)
}
