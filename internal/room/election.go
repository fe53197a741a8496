package room

import "sort"

// Host election is a pure function over a normalized candidate list. No
// hidden state: the same inputs always produce the same decision.

type Candidate struct {
	ID         string
	JoinedAt   int64
	OrderIndex int
	LastSeenAt int64
	IsOnline   bool
	Name       string
}

type DecisionKind string

const (
	DecideNone   DecisionKind = "none"
	DecideAssign DecisionKind = "assign"
	DecideClear  DecisionKind = "clear"
)

// Election reasons.
const (
	ReasonHostPresent  = "host-present"
	ReasonNoPlayers    = "no-players"
	ReasonClaimSuccess = "claim-success"
	ReasonAutoAssign   = "auto-assign"
	ReasonHostLeft     = "host-left"
)

type Decision struct {
	Kind   DecisionKind
	HostID string
	Reason string
}

// NormalizeCandidates drops empty ids and the leaving uid, and merges
// duplicate ids by taking the minimum of the numeric fields and the OR of
// IsOnline.
func NormalizeCandidates(in []Candidate, leavingUID string) []Candidate {
	merged := make(map[string]Candidate, len(in))
	order := make([]string, 0, len(in))
	for _, c := range in {
		if c.ID == "" || c.ID == leavingUID {
			continue
		}
		prev, ok := merged[c.ID]
		if !ok {
			merged[c.ID] = c
			order = append(order, c.ID)
			continue
		}
		if c.JoinedAt < prev.JoinedAt {
			prev.JoinedAt = c.JoinedAt
		}
		if c.OrderIndex < prev.OrderIndex {
			prev.OrderIndex = c.OrderIndex
		}
		if c.LastSeenAt < prev.LastSeenAt {
			prev.LastSeenAt = c.LastSeenAt
		}
		prev.IsOnline = prev.IsOnline || c.IsOnline
		merged[c.ID] = prev
	}

	out := make([]Candidate, 0, len(merged))
	for _, id := range order {
		out = append(out, merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if a.LastSeenAt != b.LastSeenAt {
			return a.LastSeenAt < b.LastSeenAt
		}
		return a.ID < b.ID
	})
	return out
}

// HasValidHost reports whether currentHostID is a live candidate.
func HasValidHost(candidates []Candidate, leavingUID, currentHostID string) bool {
	if currentHostID == "" || currentHostID == leavingUID {
		return false
	}
	for _, c := range NormalizeCandidates(candidates, leavingUID) {
		if c.ID == currentHostID {
			return true
		}
	}
	return false
}

// EvaluateClaim decides whether claimantID (or the primary candidate) should
// become host.
func EvaluateClaim(candidates []Candidate, leavingUID, currentHostID, claimantID string) Decision {
	return evaluate(candidates, leavingUID, currentHostID, claimantID, false)
}

// EvaluateAfterLeave decides the next host after leavingUID departs.
func EvaluateAfterLeave(candidates []Candidate, leavingUID, currentHostID string) Decision {
	return evaluate(candidates, leavingUID, currentHostID, "", true)
}

func evaluate(candidates []Candidate, leavingUID, currentHostID, claimantID string, afterLeave bool) Decision {
	if HasValidHost(candidates, leavingUID, currentHostID) {
		return Decision{Kind: DecideNone, HostID: currentHostID, Reason: ReasonHostPresent}
	}
	normalized := NormalizeCandidates(candidates, leavingUID)
	if len(normalized) == 0 {
		return Decision{Kind: DecideClear, Reason: ReasonNoPlayers}
	}
	primary := normalized[0]
	reason := ReasonAutoAssign
	if afterLeave {
		reason = ReasonHostLeft
	} else if claimantID == primary.ID {
		reason = ReasonClaimSuccess
	}
	return Decision{Kind: DecideAssign, HostID: primary.ID, Reason: reason}
}
