package tracecsv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// ssbDecoder reads the simulator receive log. Every "-" row is a replication
// store of feed id at index by receiver, owned by the feed. Rows carrying an
// interest operation ("FOLLOW <target>") are graph edits acted by the feed; the
// same entry is logged once per receiver, so only its first appearance counts.
type ssbDecoder struct {
	cols    columnIndex
	applied map[ssbEntry]struct{}
}

type ssbEntry struct {
	feed  string
	index domain.Version
}

var ssbColumns = []string{"tickCount", "receiver", "id", "index", "eventData"}

func newSSBDecoder(header []string) (*ssbDecoder, error) {
	cols := indexHeader(header)
	if err := cols.require(ssbColumns...); err != nil {
		return nil, err
	}
	return &ssbDecoder{cols: cols, applied: map[ssbEntry]struct{}{}}, nil
}

func (d *ssbDecoder) decode(fields []string) ([]domain.Event, error) {
	at, err := parseTick(d.cols.field(fields, "tickCount"))
	if err != nil {
		return nil, err
	}
	feed := d.cols.field(fields, "id")
	index, err := parseVersion(d.cols.field(fields, "index"))
	if err != nil {
		return nil, err
	}
	data := d.cols.field(fields, "eventData")
	if data == "" || data == "-" {
		receiver := domain.NodeID(d.cols.field(fields, "receiver"))
		ev := domain.StoreEvent(at, receiver, domain.ItemID(feed), index).WithOwner(domain.NodeID(feed))
		return []domain.Event{ev}, nil
	}

	parts := strings.Fields(data)
	if len(parts) != 2 {
		return nil, fmt.Errorf("event data %q: want \"<OP> <target>\"", data)
	}
	kind, err := domain.ParseEventKind(parts[0])
	if err != nil {
		return nil, err
	}
	if !kind.IsGraphEdit() {
		return nil, fmt.Errorf("event data %q: not an interest operation", data)
	}
	entry := ssbEntry{feed: feed, index: index}
	if _, done := d.applied[entry]; done {
		return nil, nil
	}
	d.applied[entry] = struct{}{}
	return []domain.Event{{
		Kind:   kind,
		At:     at,
		Node:   domain.NodeID(feed),
		Target: domain.NodeID(parts[1]),
	}}, nil
}

// eventsDecoder reads the canonical one-event-per-row layout.
type eventsDecoder struct {
	cols columnIndex
}

var errMissingField = errors.New("missing field")

func newEventsDecoder(header []string) (*eventsDecoder, error) {
	cols := indexHeader(header)
	if err := cols.require("time", "kind", "node"); err != nil {
		return nil, err
	}
	return &eventsDecoder{cols: cols}, nil
}

func (d *eventsDecoder) decode(fields []string) ([]domain.Event, error) {
	at, err := parseTick(d.cols.field(fields, "time"))
	if err != nil {
		return nil, err
	}
	kind, err := domain.ParseEventKind(d.cols.field(fields, "kind"))
	if err != nil {
		return nil, err
	}
	ev := domain.Event{
		Kind: kind,
		At:   at,
		Node: domain.NodeID(d.cols.field(fields, "node")),
	}
	if kind != domain.EventStore {
		ev.Target = domain.NodeID(d.cols.field(fields, "target"))
		return []domain.Event{ev}, nil
	}
	ev.Item = domain.ItemID(d.cols.field(fields, "item"))
	rawVersion := d.cols.field(fields, "version")
	if rawVersion == "" {
		return nil, fmt.Errorf("%w: version", errMissingField)
	}
	if ev.Version, err = parseVersion(rawVersion); err != nil {
		return nil, err
	}
	ev.Owner = domain.NodeID(d.cols.field(fields, "owner"))
	return []domain.Event{ev}, nil
}
