package room

import "testing"

func TestReconcileProposalSeedMismatch(t *testing.T) {
	stored := []string{"a", "b", "c"}
	out := ReconcileProposal(stored, "old-seed", "new-seed", 3)
	if len(out) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(out))
	}
	for i, id := range out {
		if id != "" {
			t.Fatalf("slot %d not cleared: %q", i, id)
		}
	}
}

func TestReconcileProposalSeedMatch(t *testing.T) {
	out := ReconcileProposal([]string{"a", "", "b"}, "s", "s", 3)
	want := []string{"a", "", "b"}
	assertSlots(t, out, want)
}

func TestSlotAddFirstEmpty(t *testing.T) {
	out := ApplySlotAction([]string{"a", "", ""}, 3, SlotAdd, "b", NoSlotIndex)
	assertSlots(t, out, []string{"a", "b", ""})
}

func TestSlotAddExplicitTarget(t *testing.T) {
	out := ApplySlotAction([]string{"a", "", ""}, 3, SlotAdd, "b", 2)
	assertSlots(t, out, []string{"a", "", "b"})
}

func TestSlotAddOccupiedTargetFallsBack(t *testing.T) {
	out := ApplySlotAction([]string{"a", "", ""}, 3, SlotAdd, "b", 0)
	assertSlots(t, out, []string{"a", "b", ""})
}

func TestSlotAddExistingPlayerIsIdempotent(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", ""}, 3, SlotAdd, "a", NoSlotIndex)
	assertSlots(t, out, []string{"a", "b", ""})
}

func TestSlotAddExistingPlayerRelocates(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", ""}, 3, SlotAdd, "a", 2)
	assertSlots(t, out, []string{"", "b", "a"})
}

func TestSlotRemove(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", "c"}, 3, SlotRemove, "b", NoSlotIndex)
	assertSlots(t, out, []string{"a", "", "c"})
}

func TestSlotRemoveAbsentPlayerNoop(t *testing.T) {
	out := ApplySlotAction([]string{"a", "", "c"}, 3, SlotRemove, "x", NoSlotIndex)
	assertSlots(t, out, []string{"a", "", "c"})
}

func TestSlotMoveToEmpty(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", ""}, 3, SlotMove, "a", 2)
	assertSlots(t, out, []string{"", "b", "a"})
}

func TestSlotMoveSwapsOccupant(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", "c"}, 3, SlotMove, "a", 2)
	assertSlots(t, out, []string{"c", "b", "a"})
}

func TestSlotMoveOutOfRangeNoop(t *testing.T) {
	out := ApplySlotAction([]string{"a", "b", ""}, 3, SlotMove, "a", 5)
	assertSlots(t, out, []string{"a", "b", ""})
}

func TestApplySlotActionNeverDuplicates(t *testing.T) {
	// A corrupted input with duplicates must come out clean.
	out := ApplySlotAction([]string{"a", "a", "b"}, 3, SlotAdd, "a", 1)
	seen := map[string]int{}
	for _, id := range out {
		if id != "" {
			seen[id]++
		}
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("player %q appears %d times: %v", id, n, out)
		}
	}
	if len(out) != 3 {
		t.Fatalf("length %d, want capacity 3", len(out))
	}
}

func TestApplySlotActionLengthAlwaysCapacity(t *testing.T) {
	cases := []struct {
		slots    []string
		capacity int
	}{
		{nil, 4},
		{[]string{"a"}, 4},
		{[]string{"a", "b", "c", "d", "e"}, 3},
	}
	for _, tc := range cases {
		out := ApplySlotAction(tc.slots, tc.capacity, SlotAdd, "z", NoSlotIndex)
		if len(out) != tc.capacity {
			t.Fatalf("slots=%v capacity=%d got length %d", tc.slots, tc.capacity, len(out))
		}
	}
}

func TestProposalComplete(t *testing.T) {
	if ProposalComplete([]string{"a", "", "b"}) {
		t.Fatal("partial proposal reported complete")
	}
	if ProposalComplete(nil) {
		t.Fatal("empty proposal reported complete")
	}
	if !ProposalComplete([]string{"a", "b"}) {
		t.Fatal("full proposal reported incomplete")
	}
}

func assertSlots(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length %d want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d: got %q want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}
