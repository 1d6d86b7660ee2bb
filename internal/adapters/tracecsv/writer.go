package tracecsv

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// RecordHeader is the column layout written by RecordWriter.
var RecordHeader = []string{"item", "owner", "version", "first_seen", "completed_at", "latency"}

// RecordWriter streams propagation records as CSV. Pending records leave
// completed_at and latency empty.
type RecordWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewRecordWriter constructs a writer; the header is written with the first record.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: csv.NewWriter(w)}
}

// Write appends one record.
func (rw *RecordWriter) Write(rec domain.PropagationRecord) error {
	if err := rw.writeHeader(); err != nil {
		return err
	}
	row := []string{
		string(rec.Item),
		string(rec.Owner),
		strconv.FormatInt(int64(rec.Version), 10),
		rec.FirstSeen.String(),
		"",
		"",
	}
	if latency, ok := rec.Latency(); ok {
		row[4] = rec.CompletedAt.String()
		row[5] = latency.String()
	}
	return rw.w.Write(row)
}

// WriteAll appends records and flushes.
func (rw *RecordWriter) WriteAll(records []domain.PropagationRecord) error {
	for _, rec := range records {
		if err := rw.Write(rec); err != nil {
			return err
		}
	}
	return rw.Flush()
}

// Flush writes buffered rows and reports any write error. An empty output
// still gets its header.
func (rw *RecordWriter) Flush() error {
	if err := rw.writeHeader(); err != nil {
		return err
	}
	rw.w.Flush()
	return rw.w.Error()
}

func (rw *RecordWriter) writeHeader() error {
	if rw.wroteHeader {
		return nil
	}
	rw.wroteHeader = true
	return rw.w.Write(RecordHeader)
}
