// Package tracecsv reads simulation traces into ordered domain events and
// writes propagation records back out as CSV.
package tracecsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// Format names a supported trace layout.
type Format string

// Supported trace formats.
const (
	// FormatSSB is the gossip simulator's receive log:
	// tickCount, receiver, id, index, ..., eventData.
	FormatSSB Format = "ssb"
	// FormatEvents is the canonical layout: time, kind, node, target, item, version[, owner].
	FormatEvents Format = "events"
)

// ErrMalformedRow and related errors describe ingestion failures.
var (
	ErrUnknownFormat = errors.New("unknown trace format")
	ErrMissingColumn = errors.New("missing trace column")
	ErrMalformedRow  = errors.New("malformed trace row")
)

// ParseFormat normalizes a format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatSSB:
		return FormatSSB, nil
	case FormatEvents, "":
		return FormatEvents, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Options configures trace reading.
type Options struct {
	Format Format
	// DropFinalRow skips the last data row, which the simulator may truncate on shutdown.
	DropFinalRow bool
}

// Events lazily decodes r into events numbered from 1 in input order. The first
// decoding error is yielded and ends the sequence.
func Events(r io.Reader, opts Options) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		format, err := ParseFormat(string(opts.Format))
		if err != nil {
			yield(domain.Event{}, err)
			return
		}
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		header, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			yield(domain.Event{}, fmt.Errorf("read trace header: %w", err))
			return
		}
		var dec decoder
		switch format {
		case FormatSSB:
			dec, err = newSSBDecoder(header)
		default:
			dec, err = newEventsDecoder(header)
		}
		if err != nil {
			yield(domain.Event{}, err)
			return
		}

		rows := readRows(cr)
		next, stop := iter.Pull2(rows)
		defer stop()

		row, rowErr, ok := next()
		seq := 0
		for ok {
			following, followingErr, more := next()
			if opts.DropFinalRow && !more {
				return
			}
			if rowErr != nil {
				yield(domain.Event{}, rowErr)
				return
			}
			events, err := dec.decode(row.fields)
			if err != nil {
				yield(domain.Event{}, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, row.line, err))
				return
			}
			for _, ev := range events {
				seq++
				ev.Seq = seq
				if err := ev.Validate(); err != nil {
					yield(domain.Event{}, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, row.line, err))
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
			row, rowErr, ok = following, followingErr, more
		}
	}
}

type csvRow struct {
	line   int
	fields []string
}

func readRows(cr *csv.Reader) iter.Seq2[csvRow, error] {
	return func(yield func(csvRow, error) bool) {
		for {
			fields, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				// A parse error leaves the reader positioned on the next record.
				var parseErr *csv.ParseError
				if !yield(csvRow{}, fmt.Errorf("read trace: %w", err)) || !errors.As(err, &parseErr) {
					return
				}
				continue
			}
			if isBlank(fields) {
				continue
			}
			line, _ := cr.FieldPos(0)
			if !yield(csvRow{line: line, fields: fields}, nil) {
				return
			}
		}
	}
}

func isBlank(fields []string) bool {
	for _, field := range fields {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// decoder turns one data row into zero or more events.
type decoder interface {
	decode(fields []string) ([]domain.Event, error)
}

// columnIndex maps normalized header names to positions.
type columnIndex map[string]int

func indexHeader(header []string) columnIndex {
	idx := columnIndex{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

func (c columnIndex) require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := c[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// field returns the trimmed value of a named column, or "" when the row is short.
func (c columnIndex) field(fields []string, name string) string {
	i, ok := c[strings.ToLower(name)]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func parseTick(raw string) (domain.Tick, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("time %q: %w", raw, err)
	}
	return domain.Tick(v), nil
}

func parseVersion(raw string) (domain.Version, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", raw, err)
	}
	return domain.Version(v), nil
}
