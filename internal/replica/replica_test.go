package replica

import (
	"testing"
	"time"

	"parlor/internal/room"
)

func baseSnapshot(version int64) room.Snapshot {
	return room.Snapshot{
		Room: room.Room{
			ID:            "room1",
			Status:        room.StatusClue,
			StatusVersion: version,
			Order: room.OrderState{
				Proposal: []string{"", "", ""},
			},
		},
		Players: []room.Player{
			{ID: "p1", Name: "Ada", Clue: ""},
			{ID: "p2", Name: "Ben", Clue: "old"},
		},
		ReadAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestViewOverlaysPendingPatch(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(1), false)

	e.ApplyLocal("p1", "set-clue", map[string]any{"clue": "breeze"}, time.Now())

	view, ok := e.View()
	if !ok {
		t.Fatal("expected a view")
	}
	if view.Players[0].Clue != "breeze" {
		t.Fatalf("got clue %q", view.Players[0].Clue)
	}
	// The base stays authoritative.
	if len(e.Pending()) != 1 {
		t.Fatalf("pending count %d", len(e.Pending()))
	}
}

func TestSnapshotConfirmsMatchingPending(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(1), false)
	e.ApplyLocal("p1", "set-clue", map[string]any{"clue": "breeze"}, time.Now())

	next := baseSnapshot(2)
	next.Players[0].Clue = "breeze"
	if !e.ApplySnapshot(next, false) {
		t.Fatal("snapshot rejected")
	}
	if n := len(e.Pending()); n != 0 {
		t.Fatalf("pending not confirmed: %d left", n)
	}
}

func TestSnapshotKeepsUnconfirmedPending(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(1), false)
	e.ApplyLocal("p1", "set-clue", map[string]any{"clue": "breeze"}, time.Now())

	// Server state moved on without our edit.
	e.ApplySnapshot(baseSnapshot(2), false)
	if n := len(e.Pending()); n != 1 {
		t.Fatalf("pending dropped without confirmation: %d", n)
	}
	view, _ := e.View()
	if view.Players[0].Clue != "breeze" {
		t.Fatalf("overlay lost: %q", view.Players[0].Clue)
	}
}

func TestRollbackRequiresMatchingSeq(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(1), false)
	first := e.ApplyLocal("p2", "set-clue", map[string]any{"clue": "one"}, time.Now())
	second := e.ApplyLocal("p2", "set-clue", map[string]any{"clue": "two"}, time.Now())

	if e.Rollback("p2", first.Seq) {
		t.Fatal("stale seq must not roll back")
	}
	if !e.Rollback("p2", second.Seq) {
		t.Fatal("current seq should roll back")
	}
	view, _ := e.View()
	// Previous from before the first optimistic edit.
	if view.Players[1].Clue != "old" {
		t.Fatalf("got %q want original clue", view.Players[1].Clue)
	}
	if len(e.Pending()) != 0 {
		t.Fatal("pending entry survived rollback")
	}
}

func TestSupersededPatchKeepsOriginalPrevious(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(1), false)
	e.ApplyLocal("p2", "set-clue", map[string]any{"clue": "one"}, time.Now())
	entry := e.ApplyLocal("p2", "set-clue", map[string]any{"clue": "two"}, time.Now())

	if entry.Previous["clue"] != "old" {
		t.Fatalf("previous should predate the stack: %v", entry.Previous)
	}
}

func TestApplySnapshotRejectsNonIncreasingVersion(t *testing.T) {
	e := New()
	if !e.ApplySnapshot(baseSnapshot(5), false) {
		t.Fatal("first snapshot rejected")
	}
	if e.ApplySnapshot(baseSnapshot(5), false) {
		t.Fatal("equal version accepted")
	}
	if e.ApplySnapshot(baseSnapshot(3), false) {
		t.Fatal("lower version accepted")
	}
	if !e.ApplySnapshot(baseSnapshot(6), false) {
		t.Fatal("higher version rejected")
	}
}

func TestOfferPatchGate(t *testing.T) {
	e := New()
	e.ApplySnapshot(baseSnapshot(4), false)
	if e.OfferPatch(room.SyncPatch{StatusVersion: 4}) {
		t.Fatal("equal version should be ignored")
	}
	if !e.OfferPatch(room.SyncPatch{StatusVersion: 5}) {
		t.Fatal("newer version should be acted on")
	}
}

func TestSlotIntentOverlay(t *testing.T) {
	e := New()
	snap := baseSnapshot(1)
	snap.Room.Deal = &room.Deal{Players: []string{"p1", "p2", "p3"}, Seed: "s"}
	e.ApplySnapshot(snap, false)

	e.ApplySlotIntent("p1", SlotPlaced, 1, time.Now())
	view, _ := e.View()
	if view.Room.Order.Proposal[1] != "p1" {
		t.Fatalf("got proposal %v", view.Room.Order.Proposal)
	}

	// Placing the same player again cannot yield two slots.
	e.ApplySlotIntent("p1", SlotPlaced, 2, time.Now())
	view, _ = e.View()
	count := 0
	for _, id := range view.Room.Order.Proposal {
		if id == "p1" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("p1 appears %d times: %v", count, view.Room.Order.Proposal)
	}
}

func TestSlotIntentConfirmation(t *testing.T) {
	e := New()
	snap := baseSnapshot(1)
	snap.Room.Deal = &room.Deal{Players: []string{"p1", "p2", "p3"}, Seed: "s"}
	e.ApplySnapshot(snap, false)
	e.ApplySlotIntent("p1", SlotPlaced, 0, time.Now())

	next := baseSnapshot(2)
	next.Room.Deal = &room.Deal{Players: []string{"p1", "p2", "p3"}, Seed: "s"}
	next.Room.Order.Proposal = []string{"p1", "", ""}
	e.ApplySnapshot(next, false)
	if n := len(e.Pending()); n != 0 {
		t.Fatalf("slot intent not confirmed: %d pending", n)
	}
}

func TestCacheOnlyTracking(t *testing.T) {
	e := New()
	e.Start(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))

	cached := baseSnapshot(1)
	e.ApplySnapshot(cached, true)
	state := e.SyncState()
	if state.CacheOnlySince.IsZero() || !state.LastSnapshotFromCache {
		t.Fatalf("cache-only not tracked: %+v", state)
	}
	if !state.LastServerSnapshotAt.IsZero() {
		t.Fatalf("server snapshot time set from cache: %+v", state)
	}

	fresh := baseSnapshot(2)
	e.ApplySnapshot(fresh, false)
	state = e.SyncState()
	if !state.CacheOnlySince.IsZero() {
		t.Fatalf("cache-only not cleared: %+v", state)
	}
	if !state.LastServerSnapshotAt.Equal(fresh.ReadAt) {
		t.Fatalf("server snapshot time: %+v", state)
	}
}
