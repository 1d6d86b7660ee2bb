package domain

import "cmp"

// RecordKey identifies one propagation record.
type RecordKey struct {
	Item    ItemID
	Version Version
}

// Compare orders keys by item, then version.
func (k RecordKey) Compare(other RecordKey) int {
	if c := cmp.Compare(k.Item, other.Item); c != 0 {
		return c
	}
	return cmp.Compare(k.Version, other.Version)
}

// PropagationRecord tracks when one item version was first seen and when its
// audience became complete. A record with CompletedAt set is final.
type PropagationRecord struct {
	Item        ItemID
	Owner       NodeID
	Version     Version
	FirstSeen   Tick
	CompletedAt *Tick
}

// Key returns the record identity.
func (r PropagationRecord) Key() RecordKey {
	return RecordKey{Item: r.Item, Version: r.Version}
}

// Completed reports whether the record has been finalized.
func (r PropagationRecord) Completed() bool {
	return r.CompletedAt != nil
}

// Latency returns completedAt - firstSeen for finalized records.
func (r PropagationRecord) Latency() (Tick, bool) {
	if r.CompletedAt == nil {
		return 0, false
	}
	return *r.CompletedAt - r.FirstSeen, true
}

// Timestamps returns [firstSeen] or [firstSeen, completedAt].
func (r PropagationRecord) Timestamps() []Tick {
	if r.CompletedAt == nil {
		return []Tick{r.FirstSeen}
	}
	return []Tick{r.FirstSeen, *r.CompletedAt}
}

// Complete finalizes the record at the given time. It returns false when the
// record was already finalized; a finalized record never changes.
func (r *PropagationRecord) Complete(at Tick) bool {
	if r.CompletedAt != nil {
		return false
	}
	ts := at
	r.CompletedAt = &ts
	return true
}

// Clone returns a copy that does not share the completion pointer.
func (r PropagationRecord) Clone() PropagationRecord {
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		r.CompletedAt = &ts
	}
	return r
}
