// Package replay folds an ordered trace of store and social-graph events into
// per-item propagation records: when each item version was first seen and when
// every node entitled to it at that moment held it.
package replay

import (
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// Stats counts what the replayer did with its input.
type Stats struct {
	Events      int
	Stores      int
	StaleStores int
	GraphEdits  int
	GraphNoops  int
	Opened      int
	Completed   int
	LastTick    domain.Tick
}

// replicaKey addresses one node's copy of one item.
type replicaKey struct {
	node domain.NodeID
	item domain.ItemID
}

// itemState holds the immutable owner of an item plus its unfinalized records.
type itemState struct {
	owner   domain.NodeID
	seen    map[domain.Version]struct{}
	pending map[domain.Version]*domain.PropagationRecord
}

// Replayer is a single-threaded state machine; it is not safe for concurrent use.
type Replayer struct {
	followers edgeSet // owner -> followers
	blockers  edgeSet // target -> blockers
	replicas  map[replicaKey]domain.Version
	items     map[domain.ItemID]*itemState
	owned     map[domain.NodeID][]domain.ItemID
	started   bool
	last      domain.Tick
	stats     Stats
}

// New returns a replayer with empty graphs and replication state.
func New() *Replayer {
	return &Replayer{
		followers: edgeSet{},
		blockers:  edgeSet{},
		replicas:  map[replicaKey]domain.Version{},
		items:     map[domain.ItemID]*itemState{},
		owned:     map[domain.NodeID][]domain.ItemID{},
	}
}

// Replay lazily folds events into record updates. Creation updates carry a nil
// CompletedAt; completion updates carry it set. The first ordering violation is
// yielded as an error and ends the sequence.
func Replay(events iter.Seq[domain.Event]) iter.Seq2[domain.PropagationRecord, error] {
	return New().All(events)
}

// All folds events into this replayer, yielding each record update.
func (r *Replayer) All(events iter.Seq[domain.Event]) iter.Seq2[domain.PropagationRecord, error] {
	return func(yield func(domain.PropagationRecord, error) bool) {
		for ev := range events {
			updates, err := r.Apply(ev)
			if err != nil {
				yield(domain.PropagationRecord{}, err)
				return
			}
			for _, update := range updates {
				if !yield(update, nil) {
					return
				}
			}
		}
	}
}

// Apply performs one fold step and returns the record updates it produced.
func (r *Replayer) Apply(ev domain.Event) ([]domain.PropagationRecord, error) {
	if ev.Seq == 0 {
		ev.Seq = r.stats.Events + 1
	}
	if math.IsNaN(float64(ev.At)) {
		return nil, fmt.Errorf("%w: %s has no time", domain.ErrInvalidEvent, ev)
	}
	if r.started && ev.At < r.last {
		return nil, &domain.OrderingViolationError{Previous: r.last, Event: ev}
	}

	var updates []domain.PropagationRecord
	switch ev.Kind {
	case domain.EventStore:
		updates = r.applyStore(ev)
	case domain.EventFollow:
		r.countEdit(r.followers.add(ev.Target, ev.Node))
	case domain.EventUnfollow:
		changed := r.followers.remove(ev.Target, ev.Node)
		r.countEdit(changed)
		if changed {
			updates = r.recheckOwner(ev.Target, ev.At)
		}
	case domain.EventBlock:
		changed := r.blockers.add(ev.Target, ev.Node)
		r.countEdit(changed)
		if changed {
			updates = append(r.recheckOwner(ev.Target, ev.At), r.recheckOwner(ev.Node, ev.At)...)
		}
	case domain.EventUnblock:
		// Re-admitting a member can only delay completion, so nothing is re-checked.
		r.countEdit(r.blockers.remove(ev.Target, ev.Node))
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidEvent, ev)
	}

	r.started = true
	r.last = ev.At
	r.stats.Events++
	r.stats.LastTick = ev.At
	return updates, nil
}

func (r *Replayer) countEdit(changed bool) {
	r.stats.GraphEdits++
	if !changed {
		r.stats.GraphNoops++
	}
}

func (r *Replayer) applyStore(ev domain.Event) []domain.PropagationRecord {
	r.stats.Stores++
	key := replicaKey{node: ev.Node, item: ev.Item}
	if held, ok := r.replicas[key]; ok && held >= ev.Version {
		r.stats.StaleStores++
		return nil
	}
	r.replicas[key] = ev.Version

	item, ok := r.items[ev.Item]
	if !ok {
		owner := ev.Owner
		if owner == "" {
			owner = ev.Node
		}
		item = &itemState{
			owner:   owner,
			seen:    map[domain.Version]struct{}{},
			pending: map[domain.Version]*domain.PropagationRecord{},
		}
		r.items[ev.Item] = item
		r.owned[owner] = append(r.owned[owner], ev.Item)
	}

	var updates []domain.PropagationRecord
	if _, seen := item.seen[ev.Version]; !seen {
		item.seen[ev.Version] = struct{}{}
		rec := &domain.PropagationRecord{
			Item:      ev.Item,
			Owner:     item.owner,
			Version:   ev.Version,
			FirstSeen: ev.At,
		}
		item.pending[ev.Version] = rec
		r.stats.Opened++
		updates = append(updates, rec.Clone())
	}
	return append(updates, r.settle(ev.Item, item, ev.Version, ev.At)...)
}

// recheckOwner re-evaluates every unfinalized record of items owned by owner.
func (r *Replayer) recheckOwner(owner domain.NodeID, at domain.Tick) []domain.PropagationRecord {
	var updates []domain.PropagationRecord
	for _, itemID := range r.owned[owner] {
		updates = append(updates, r.settle(itemID, r.items[itemID], math.MaxInt64, at)...)
	}
	return updates
}

// settle finalizes, lowest version first, every pending record up to upTo whose
// audience is now complete.
func (r *Replayer) settle(itemID domain.ItemID, item *itemState, upTo domain.Version, at domain.Tick) []domain.PropagationRecord {
	if len(item.pending) == 0 {
		return nil
	}
	var updates []domain.PropagationRecord
	for _, version := range slices.Sorted(maps.Keys(item.pending)) {
		if version > upTo {
			break
		}
		if !r.audienceComplete(item.owner, itemID, version) {
			continue
		}
		rec := item.pending[version]
		rec.Complete(at)
		delete(item.pending, version)
		r.stats.Completed++
		updates = append(updates, rec.Clone())
	}
	return updates
}

// audienceComplete reports whether every current follower of owner that is not
// separated from it by a block holds item at version or later. The owner never
// counts as its own follower.
func (r *Replayer) audienceComplete(owner domain.NodeID, itemID domain.ItemID, version domain.Version) bool {
	for follower := range r.followers[owner] {
		if follower == owner || r.excluded(owner, follower) {
			continue
		}
		held, ok := r.replicas[replicaKey{node: follower, item: itemID}]
		if !ok || held < version {
			return false
		}
	}
	return true
}

// excluded reports whether follower blocked owner or owner blocked follower.
func (r *Replayer) excluded(owner, follower domain.NodeID) bool {
	return r.blockers.has(owner, follower) || r.blockers.has(follower, owner)
}

// Pending returns copies of all unfinalized records ordered by item and version.
func (r *Replayer) Pending() []domain.PropagationRecord {
	var out []domain.PropagationRecord
	for _, item := range r.items {
		for _, rec := range item.pending {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.PropagationRecord) int {
		return a.Key().Compare(b.Key())
	})
	return out
}

// Stats returns the counters accumulated so far.
func (r *Replayer) Stats() Stats {
	return r.stats
}

// Followers returns the current followers of owner, sorted.
func (r *Replayer) Followers(owner domain.NodeID) []domain.NodeID {
	return r.followers.members(owner)
}

// Blockers returns the nodes currently blocking target, sorted.
func (r *Replayer) Blockers(target domain.NodeID) []domain.NodeID {
	return r.blockers.members(target)
}

// HeldVersion returns the highest version of item stored by node.
func (r *Replayer) HeldVersion(node domain.NodeID, item domain.ItemID) (domain.Version, bool) {
	v, ok := r.replicas[replicaKey{node: node, item: item}]
	return v, ok
}

// Owner returns the originator recorded for item.
func (r *Replayer) Owner(item domain.ItemID) (domain.NodeID, bool) {
	state, ok := r.items[item]
	if !ok {
		return "", false
	}
	return state.owner, true
}
