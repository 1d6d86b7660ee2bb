package app

import (
	"context"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// Repository persists replay runs and their propagation records.
type Repository interface {
	CreateRun(context.Context, domain.Run) error
	UpdateRun(context.Context, domain.Run) error
	GetRun(context.Context, string) (domain.Run, error)
	ListRuns(context.Context) ([]domain.Run, error)

	UpsertRecords(context.Context, string, []domain.PropagationRecord) error
	ListRecords(context.Context, string, RecordFilter) ([]domain.PropagationRecord, error)
}

// RecordFilter narrows ListRecords results.
type RecordFilter struct {
	PendingOnly   bool
	CompletedOnly bool
	Limit         int
}

// Logger receives structured service events.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
