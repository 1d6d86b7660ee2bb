package replay

import (
	"errors"
	"slices"
	"testing"

	"github.com/evanschultz/gossiptrace/internal/domain"
)

// applyAll folds events and returns every update in emission order.
func applyAll(t *testing.T, r *Replayer, events ...domain.Event) []domain.PropagationRecord {
	t.Helper()
	var out []domain.PropagationRecord
	for _, ev := range events {
		updates, err := r.Apply(ev)
		if err != nil {
			t.Fatalf("Apply(%s) error = %v", ev, err)
		}
		out = append(out, updates...)
	}
	return out
}

// completions filters updates down to finalized records.
func completions(updates []domain.PropagationRecord) []domain.PropagationRecord {
	var out []domain.PropagationRecord
	for _, update := range updates {
		if update.Completed() {
			out = append(out, update)
		}
	}
	return out
}

func requireCompletion(t *testing.T, updates []domain.PropagationRecord, item domain.ItemID, version domain.Version, firstSeen, completedAt domain.Tick) {
	t.Helper()
	done := completions(updates)
	idx := slices.IndexFunc(done, func(rec domain.PropagationRecord) bool {
		return rec.Item == item && rec.Version == version
	})
	if idx < 0 {
		t.Fatalf("expected completion for (%s,%d), got %#v", item, version, done)
	}
	rec := done[idx]
	if rec.FirstSeen != firstSeen || *rec.CompletedAt != completedAt {
		t.Fatalf("expected (%s,%d) firstSeen=%v completedAt=%v, got firstSeen=%v completedAt=%v",
			item, version, firstSeen, completedAt, rec.FirstSeen, *rec.CompletedAt)
	}
}

// ownerWithFollowers returns follow events giving owner the listed followers at t=0.
func ownerWithFollowers(owner domain.NodeID, followers ...domain.NodeID) []domain.Event {
	events := make([]domain.Event, 0, len(followers))
	for _, follower := range followers {
		events = append(events, domain.FollowEvent(0, follower, owner))
	}
	return events
}

// TestReplayerCompletesWhenLastFollowerCatchesUp verifies the basic audience rule.
func TestReplayerCompletesWhenLastFollowerCatchesUp(t *testing.T) {
	r := New()
	events := append(ownerWithFollowers("O", "1", "2"),
		domain.StoreEvent(0, "O", "X", 1),
		domain.StoreEvent(5, "1", "X", 1),
	)
	updates := applyAll(t, r, events...)
	if len(updates) != 1 || updates[0].Completed() || updates[0].FirstSeen != 0 {
		t.Fatalf("expected a single open creation update, got %#v", updates)
	}
	last := applyAll(t, r, domain.StoreEvent(9, "2", "X", 1))
	if len(last) != 1 {
		t.Fatalf("expected one completion update, got %#v", last)
	}
	requireCompletion(t, last, "X", 1, 0, 9)
	if owner, ok := r.Owner("X"); !ok || owner != "O" {
		t.Fatalf("expected owner O, got %q (ok=%t)", owner, ok)
	}
	if pending := r.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending records, got %#v", pending)
	}
}

// TestReplayerBlockExcludesLaggard verifies a block can complete a record.
func TestReplayerBlockExcludesLaggard(t *testing.T) {
	r := New()
	events := append(ownerWithFollowers("O", "1", "2"),
		domain.StoreEvent(0, "O", "X", 1),
		domain.StoreEvent(5, "1", "X", 1),
		domain.BlockEvent(7, "O", "2"),
	)
	updates := applyAll(t, r, events...)
	requireCompletion(t, updates, "X", 1, 0, 7)
	if got := r.Blockers("2"); !slices.Equal(got, []domain.NodeID{"O"}) {
		t.Fatalf("unexpected blockers %v", got)
	}
}

// TestReplayerFollowerBlockingOwnerLeavesAudience verifies the reverse block direction.
func TestReplayerFollowerBlockingOwnerLeavesAudience(t *testing.T) {
	r := New()
	events := append(ownerWithFollowers("O", "1", "2"),
		domain.StoreEvent(0, "O", "X", 1),
		domain.StoreEvent(5, "1", "X", 1),
		domain.BlockEvent(8, "2", "O"),
	)
	updates := applyAll(t, r, events...)
	requireCompletion(t, updates, "X", 1, 0, 8)
}

// TestReplayerLateFollowerDoesNotReopen verifies finalized records stay closed.
func TestReplayerLateFollowerDoesNotReopen(t *testing.T) {
	r := New()
	events := append(ownerWithFollowers("O", "1"),
		domain.StoreEvent(0, "O", "X", 1),
		domain.StoreEvent(3, "1", "X", 1),
	)
	updates := applyAll(t, r, events...)
	requireCompletion(t, updates, "X", 1, 0, 3)

	later := applyAll(t, r,
		domain.FollowEvent(10, "2", "O"),
		domain.UnfollowEvent(11, "1", "O"),
		domain.UnblockEvent(12, "O", "1"),
		domain.StoreEvent(13, "2", "X", 1),
	)
	if len(later) != 0 {
		t.Fatalf("expected no updates for a finalized record, got %#v", later)
	}
	if got := r.Followers("O"); !slices.Equal(got, []domain.NodeID{"2"}) {
		t.Fatalf("unexpected followers %v", got)
	}
}

// TestReplayerUnfollowRemovesLastLaggard verifies unfollow triggers a re-check.
func TestReplayerUnfollowRemovesLastLaggard(t *testing.T) {
	r := New()
	events := append(ownerWithFollowers("O", "1", "2"),
		domain.StoreEvent(0, "O", "X", 1),
		domain.StoreEvent(2, "1", "X", 1),
	)
	if got := completions(applyAll(t, r, events...)); len(got) != 0 {
		t.Fatalf("expected no completion yet, got %#v", got)
	}
	updates := applyAll(t, r, domain.UnfollowEvent(20, "2", "O"))
	requireCompletion(t, updates, "X", 1, 0, 20)
}

// TestReplayerNoFollowersCompletesImmediately verifies trivial completion.
func TestReplayerNoFollowersCompletesImmediately(t *testing.T) {
	updates := applyAll(t, New(), domain.StoreEvent(4, "O", "X", 1))
	if len(updates) != 2 || updates[0].Completed() || !updates[1].Completed() {
		t.Fatalf("expected creation then completion, got %#v", updates)
	}
	requireCompletion(t, updates, "X", 1, 4, 4)
}

// TestReplayerOwnerIsNeverItsOwnFollower verifies self-follow edges are ignored.
func TestReplayerOwnerIsNeverItsOwnFollower(t *testing.T) {
	updates := applyAll(t, New(),
		domain.FollowEvent(0, "O", "O"),
		domain.StoreEvent(1, "O", "X", 1),
	)
	requireCompletion(t, updates, "X", 1, 1, 1)
}

// TestReplayerIdempotentGraphEdits verifies repeated edits leave graphs unchanged.
func TestReplayerIdempotentGraphEdits(t *testing.T) {
	r := New()
	applyAll(t, r,
		domain.FollowEvent(0, "1", "O"),
		domain.FollowEvent(1, "1", "O"),
		domain.BlockEvent(2, "O", "3"),
		domain.BlockEvent(3, "O", "3"),
		domain.UnfollowEvent(4, "9", "O"),
		domain.UnblockEvent(5, "9", "Q"),
	)
	if got := r.Followers("O"); !slices.Equal(got, []domain.NodeID{"1"}) {
		t.Fatalf("unexpected followers %v", got)
	}
	if got := r.Blockers("3"); !slices.Equal(got, []domain.NodeID{"O"}) {
		t.Fatalf("unexpected blockers %v", got)
	}
	stats := r.Stats()
	if stats.GraphEdits != 6 || stats.GraphNoops != 4 {
		t.Fatalf("unexpected graph stats %#v", stats)
	}
}

// TestReplayerReplicationIsMonotonic verifies stale stores are ignored.
func TestReplayerReplicationIsMonotonic(t *testing.T) {
	r := New()
	applyAll(t, r,
		domain.FollowEvent(0, "1", "O"),
		domain.StoreEvent(0, "O", "X", 3),
		domain.StoreEvent(1, "1", "X", 2),
		domain.StoreEvent(2, "1", "X", 1),
		domain.StoreEvent(3, "1", "X", 2),
	)
	held, ok := r.HeldVersion("1", "X")
	if !ok || held != 2 {
		t.Fatalf("expected held version 2, got %d (ok=%t)", held, ok)
	}
	if stale := r.Stats().StaleStores; stale != 2 {
		t.Fatalf("expected 2 stale stores, got %d", stale)
	}
	if _, ok := r.HeldVersion("2", "X"); ok {
		t.Fatal("expected unknown replica to be unseen")
	}
}

// TestReplayerVersionSkipCompletesLowerVersions verifies skipped versions settle together.
func TestReplayerVersionSkipCompletesLowerVersions(t *testing.T) {
	r := New()
	applyAll(t, r,
		domain.FollowEvent(0, "1", "O"),
		domain.StoreEvent(1, "O", "X", 1),
		domain.StoreEvent(2, "O", "X", 2),
		domain.StoreEvent(3, "O", "X", 3),
	)
	if pending := r.Pending(); len(pending) != 3 {
		t.Fatalf("expected 3 pending records, got %#v", pending)
	}
	updates := applyAll(t, r, domain.StoreEvent(6, "1", "X", 2))
	done := completions(updates)
	if len(done) != 2 || done[0].Version != 1 || done[1].Version != 2 {
		t.Fatalf("expected versions 1 and 2 to complete in order, got %#v", done)
	}
	pending := r.Pending()
	if len(pending) != 1 || pending[0].Version != 3 {
		t.Fatalf("expected only version 3 pending, got %#v", pending)
	}
}

// TestReplayerVersionZeroCountsWhenStored verifies explicit zero-version stores.
func TestReplayerVersionZeroCountsWhenStored(t *testing.T) {
	r := New()
	updates := applyAll(t, r,
		domain.FollowEvent(0, "1", "O"),
		domain.StoreEvent(1, "O", "X", 0),
	)
	if len(completions(updates)) != 0 {
		t.Fatalf("unseen follower must keep version 0 open, got %#v", updates)
	}
	updates = applyAll(t, r, domain.StoreEvent(2, "1", "X", 0))
	requireCompletion(t, updates, "X", 0, 1, 2)
}

// TestReplayerExplicitOwner verifies an owned store overrides the first writer.
func TestReplayerExplicitOwner(t *testing.T) {
	r := New()
	updates := applyAll(t, r,
		domain.FollowEvent(0, "2", "O"),
		domain.StoreEvent(1, "1", "X", 1).WithOwner("O"),
		domain.StoreEvent(2, "3", "Y", 1).WithOwner("3"),
	)
	if owner, _ := r.Owner("X"); owner != "O" {
		t.Fatalf("expected explicit owner O, got %q", owner)
	}
	if updates[0].Owner != "O" {
		t.Fatalf("expected record owner O, got %#v", updates[0])
	}
	updates = applyAll(t, r, domain.StoreEvent(4, "2", "X", 1))
	requireCompletion(t, updates, "X", 1, 1, 4)
}

// TestReplayerOrderingViolation verifies out-of-order input is fatal and identified.
func TestReplayerOrderingViolation(t *testing.T) {
	r := New()
	applyAll(t, r, domain.StoreEvent(5, "O", "X", 1), domain.StoreEvent(5, "1", "X", 1))
	_, err := r.Apply(domain.StoreEvent(4, "1", "X", 2))
	if !errors.Is(err, domain.ErrOrderingViolation) {
		t.Fatalf("expected ErrOrderingViolation, got %v", err)
	}
	var ordering *domain.OrderingViolationError
	if !errors.As(err, &ordering) || ordering.Event.Seq != 3 || ordering.Previous != 5 {
		t.Fatalf("unexpected violation %#v", ordering)
	}
}

// TestReplayerRejectsUnknownKind verifies malformed kinds are reported.
func TestReplayerRejectsUnknownKind(t *testing.T) {
	if _, err := New().Apply(domain.Event{Kind: "poke", Node: "1"}); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

// TestReplayStopsAtFirstError verifies the lazy sequence surfaces violations.
func TestReplayStopsAtFirstError(t *testing.T) {
	events := slices.Values([]domain.Event{
		domain.StoreEvent(3, "O", "X", 1),
		domain.StoreEvent(1, "O", "Y", 1),
		domain.StoreEvent(9, "O", "Z", 1),
	})
	var (
		records []domain.PropagationRecord
		errs    []error
	)
	for rec, err := range Replay(events) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	if len(records) != 2 || records[0].Item != "X" {
		t.Fatalf("expected X creation and completion only, got %#v", records)
	}
	if len(errs) != 1 || !errors.Is(errs[0], domain.ErrOrderingViolation) {
		t.Fatalf("expected a single ordering violation, got %v", errs)
	}
}

// TestReplayCanStopEarly verifies breaking out of the sequence halts emission.
func TestReplayCanStopEarly(t *testing.T) {
	events := slices.Values([]domain.Event{
		domain.StoreEvent(1, "O", "X", 1),
		domain.StoreEvent(2, "O", "Y", 1),
	})
	count := 0
	for _, err := range Replay(events) {
		if err != nil {
			t.Fatalf("Replay() error = %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Fatalf("expected a single pulled update, got %d", count)
	}
}
