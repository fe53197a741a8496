package room

import "testing"

func TestNormalizeCandidatesOrdering(t *testing.T) {
	in := []Candidate{
		{ID: "c", JoinedAt: 300, OrderIndex: 2, LastSeenAt: 900, IsOnline: false},
		{ID: "a", JoinedAt: 200, OrderIndex: 1, LastSeenAt: 800, IsOnline: true},
		{ID: "b", JoinedAt: 100, OrderIndex: 0, LastSeenAt: 700, IsOnline: true},
	}
	out := NormalizeCandidates(in, "")
	got := []string{out[0].ID, out[1].ID, out[2].ID}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestNormalizeCandidatesTieBreakByID(t *testing.T) {
	in := []Candidate{
		{ID: "zed", JoinedAt: 100, OrderIndex: 1, LastSeenAt: 500, IsOnline: true},
		{ID: "amy", JoinedAt: 100, OrderIndex: 1, LastSeenAt: 500, IsOnline: true},
	}
	out := NormalizeCandidates(in, "")
	if out[0].ID != "amy" {
		t.Fatalf("expected lexicographic id tie-break, got %q first", out[0].ID)
	}
}

func TestNormalizeCandidatesMergesDuplicates(t *testing.T) {
	in := []Candidate{
		{ID: "a", JoinedAt: 200, OrderIndex: 5, LastSeenAt: 900, IsOnline: false},
		{ID: "a", JoinedAt: 100, OrderIndex: 7, LastSeenAt: 950, IsOnline: true},
	}
	out := NormalizeCandidates(in, "")
	if len(out) != 1 {
		t.Fatalf("expected 1 merged candidate, got %d", len(out))
	}
	c := out[0]
	if c.JoinedAt != 100 || c.OrderIndex != 5 || c.LastSeenAt != 900 || !c.IsOnline {
		t.Fatalf("bad merge: %+v", c)
	}
}

func TestNormalizeCandidatesDropsLeavingAndEmpty(t *testing.T) {
	in := []Candidate{
		{ID: "", JoinedAt: 1},
		{ID: "gone", JoinedAt: 2},
		{ID: "stay", JoinedAt: 3},
	}
	out := NormalizeCandidates(in, "gone")
	if len(out) != 1 || out[0].ID != "stay" {
		t.Fatalf("got %v", out)
	}
}

func TestEvaluateClaimKeepsValidHost(t *testing.T) {
	candidates := []Candidate{
		{ID: "host", JoinedAt: 100, IsOnline: true},
		{ID: "other", JoinedAt: 200, IsOnline: true},
	}
	d := EvaluateClaim(candidates, "", "host", "other")
	if d.Kind != DecideNone || d.HostID != "host" || d.Reason != ReasonHostPresent {
		t.Fatalf("got %+v", d)
	}
}

func TestEvaluateClaimAssignsClaimant(t *testing.T) {
	candidates := []Candidate{
		{ID: "claimant", JoinedAt: 100, IsOnline: true},
		{ID: "other", JoinedAt: 200, IsOnline: true},
	}
	d := EvaluateClaim(candidates, "", "", "claimant")
	if d.Kind != DecideAssign || d.HostID != "claimant" || d.Reason != ReasonClaimSuccess {
		t.Fatalf("got %+v", d)
	}
}

func TestEvaluateClaimLosesToPrimary(t *testing.T) {
	// The claimant is offline; the online player outranks them regardless of
	// who asked first.
	candidates := []Candidate{
		{ID: "claimant", JoinedAt: 100, IsOnline: false},
		{ID: "primary", JoinedAt: 200, IsOnline: true},
	}
	d := EvaluateClaim(candidates, "", "", "claimant")
	if d.Kind != DecideAssign || d.HostID != "primary" || d.Reason != ReasonAutoAssign {
		t.Fatalf("got %+v", d)
	}
}

func TestEvaluateAfterLeave(t *testing.T) {
	candidates := []Candidate{
		{ID: "host", JoinedAt: 100, IsOnline: true},
		{ID: "next", JoinedAt: 200, IsOnline: true},
	}
	d := EvaluateAfterLeave(candidates, "host", "host")
	if d.Kind != DecideAssign || d.HostID != "next" || d.Reason != ReasonHostLeft {
		t.Fatalf("got %+v", d)
	}
}

func TestEvaluateAfterLeaveLastPlayerClears(t *testing.T) {
	candidates := []Candidate{{ID: "host", JoinedAt: 100, IsOnline: true}}
	d := EvaluateAfterLeave(candidates, "host", "host")
	if d.Kind != DecideClear || d.Reason != ReasonNoPlayers {
		t.Fatalf("got %+v", d)
	}
}

func TestElectionDeterministic(t *testing.T) {
	candidates := []Candidate{
		{ID: "b", JoinedAt: 100, OrderIndex: 1, LastSeenAt: 500, IsOnline: true},
		{ID: "a", JoinedAt: 100, OrderIndex: 1, LastSeenAt: 500, IsOnline: true},
		{ID: "c", JoinedAt: 50, OrderIndex: 0, LastSeenAt: 400, IsOnline: false},
	}
	first := EvaluateAfterLeave(candidates, "x", "x")
	for i := 0; i < 20; i++ {
		again := EvaluateAfterLeave(candidates, "x", "x")
		if again != first {
			t.Fatalf("iteration %d: %+v != %+v", i, again, first)
		}
	}
}
