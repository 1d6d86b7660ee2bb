package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NodeID identifies one simulated peer.
type NodeID string

// ItemID identifies one replicated content item (a feed in ssb traces).
type ItemID string

// Version is a replication index; higher versions supersede lower ones per node.
type Version int64

// Tick is a simulation timestamp as recorded by the trace.
type Tick float64

// String renders the tick without trailing zeros.
func (t Tick) String() string {
	return strconv.FormatFloat(float64(t), 'f', -1, 64)
}

// EventKind describes which trace operation an event carries.
type EventKind string

// EventKind values understood by the replayer.
const (
	EventStore    EventKind = "store"
	EventFollow   EventKind = "follow"
	EventUnfollow EventKind = "unfollow"
	EventBlock    EventKind = "block"
	EventUnblock  EventKind = "unblock"
)

var validEventKinds = []EventKind{EventStore, EventFollow, EventUnfollow, EventBlock, EventUnblock}

// ParseEventKind normalizes one textual kind (case-insensitive).
func ParseEventKind(raw string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range validEventKinds {
		if kind == candidate {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, raw)
}

// IsGraphEdit reports whether the kind mutates the follower or blocker graph.
func (k EventKind) IsGraphEdit() bool {
	switch k {
	case EventFollow, EventUnfollow, EventBlock, EventUnblock:
		return true
	default:
		return false
	}
}

// Event is one immutable trace entry.
//
// Store events use Node, Item, Version and optionally Owner. Graph events use
// Node as the acting follower/blocker and Target as the followed/blocked node.
type Event struct {
	Seq     int
	Kind    EventKind
	At      Tick
	Node    NodeID
	Target  NodeID
	Item    ItemID
	Version Version
	Owner   NodeID
}

// StoreEvent builds a Store event: node now holds item at version.
func StoreEvent(at Tick, node NodeID, item ItemID, version Version) Event {
	return Event{Kind: EventStore, At: at, Node: node, Item: item, Version: version}
}

// FollowEvent builds a Follow event.
func FollowEvent(at Tick, follower, target NodeID) Event {
	return Event{Kind: EventFollow, At: at, Node: follower, Target: target}
}

// UnfollowEvent builds an Unfollow event.
func UnfollowEvent(at Tick, follower, target NodeID) Event {
	return Event{Kind: EventUnfollow, At: at, Node: follower, Target: target}
}

// BlockEvent builds a Block event.
func BlockEvent(at Tick, blocker, target NodeID) Event {
	return Event{Kind: EventBlock, At: at, Node: blocker, Target: target}
}

// UnblockEvent builds an Unblock event.
func UnblockEvent(at Tick, blocker, target NodeID) Event {
	return Event{Kind: EventUnblock, At: at, Node: blocker, Target: target}
}

// WithOwner returns a copy of a Store event carrying explicit ownership.
func (e Event) WithOwner(owner NodeID) Event {
	e.Owner = owner
	return e
}

// Validate checks that the event is well-typed. Unknown references are not
// validation failures; the replayer tolerates them.
func (e Event) Validate() error {
	if math.IsNaN(float64(e.At)) || math.IsInf(float64(e.At), 0) {
		return fmt.Errorf("%w: time must be finite", ErrInvalidEvent)
	}
	if strings.TrimSpace(string(e.Node)) == "" {
		return fmt.Errorf("%w: node is required", ErrInvalidEvent)
	}
	switch e.Kind {
	case EventStore:
		if strings.TrimSpace(string(e.Item)) == "" {
			return fmt.Errorf("%w: store item is required", ErrInvalidEvent)
		}
		if e.Version < 0 {
			return fmt.Errorf("%w: store version must be >= 0", ErrInvalidEvent)
		}
	case EventFollow, EventUnfollow, EventBlock, EventUnblock:
		if strings.TrimSpace(string(e.Target)) == "" {
			return fmt.Errorf("%w: %s target is required", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// String renders a compact description used in logs and error messages.
func (e Event) String() string {
	switch e.Kind {
	case EventStore:
		return fmt.Sprintf("#%d store t=%s node=%s item=%s v=%d", e.Seq, e.At, e.Node, e.Item, e.Version)
	default:
		return fmt.Sprintf("#%d %s t=%s node=%s target=%s", e.Seq, e.Kind, e.At, e.Node, e.Target)
	}
}
