package replay

import (
	"slices"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// edgeSet maps a target node to the set of nodes holding an edge towards it.
// Adds and removes are idempotent so duplicated or missing trace lines never fail.
type edgeSet map[domain.NodeID]map[domain.NodeID]struct{}

// add inserts from -> target and reports whether the edge is new.
func (s edgeSet) add(target, from domain.NodeID) bool {
	members, ok := s[target]
	if !ok {
		members = map[domain.NodeID]struct{}{}
		s[target] = members
	}
	if _, exists := members[from]; exists {
		return false
	}
	members[from] = struct{}{}
	return true
}

// remove deletes from -> target and reports whether an edge was present.
func (s edgeSet) remove(target, from domain.NodeID) bool {
	members, ok := s[target]
	if !ok {
		return false
	}
	if _, exists := members[from]; !exists {
		return false
	}
	delete(members, from)
	if len(members) == 0 {
		delete(s, target)
	}
	return true
}

func (s edgeSet) has(target, from domain.NodeID) bool {
	_, ok := s[target][from]
	return ok
}

// members returns a sorted copy of the nodes with an edge towards target.
func (s edgeSet) members(target domain.NodeID) []domain.NodeID {
	members := s[target]
	out := make([]domain.NodeID, 0, len(members))
	for node := range members {
		out = append(out, node)
	}
	slices.Sort(out)
	return out
}
