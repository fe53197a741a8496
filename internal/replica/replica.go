// Package replica keeps a client-side copy of a room reconciled against
// authoritative snapshots. Local intents are applied optimistically as
// sequenced pending patches and later confirmed or rolled back; the
// authoritative snapshot is always the base and pending patches are replayed
// on top of it.
package replica

import (
	"strings"
	"sync"
	"time"

	"parlor/internal/room"
)

const slotEntityPrefix = "slot:"

// Slot intent ops recorded in pending patches.
const (
	SlotPlaced  = "placed"
	SlotRemoved = "removed"
)

type PendingPatch struct {
	EntityID  string
	Seq       int64
	Reason    string
	AppliedAt time.Time
	Patch     map[string]any
	Previous  map[string]any
}

type SyncState struct {
	SyncStartedAt         time.Time
	LastServerSnapshotAt  time.Time
	LastSnapshotFromCache bool
	CacheOnlySince        time.Time
	LastVersion           int64
}

type Engine struct {
	mu sync.Mutex

	base     room.Snapshot
	haveBase bool

	pending map[string]PendingPatch
	seq     map[string]int64

	state SyncState
}

func New() *Engine {
	return &Engine{
		pending: make(map[string]PendingPatch),
		seq:     make(map[string]int64),
	}
}

// Start marks the beginning of a sync session for staleness accounting.
func (e *Engine) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SyncStartedAt = now
}

// ApplyLocal records an optimistic patch for a player entity and returns the
// pending entry. A second apply to the same entity supersedes the first but
// keeps the original previous values, so a rollback restores the state
// before any of the stacked edits.
func (e *Engine) ApplyLocal(entityID, reason string, patch map[string]any, now time.Time) PendingPatch {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := make(map[string]any, len(patch))
	merged := e.lockedView()
	for field := range patch {
		previous[field] = playerField(merged, entityID, field)
	}

	entry, ok := e.pending[entityID]
	if ok {
		for field, v := range entry.Previous {
			previous[field] = v
		}
		for field, v := range entry.Patch {
			if _, patched := patch[field]; !patched {
				patch[field] = v
			}
		}
	}

	e.seq[entityID]++
	entry = PendingPatch{
		EntityID:  entityID,
		Seq:       e.seq[entityID],
		Reason:    reason,
		AppliedAt: now,
		Patch:     patch,
		Previous:  previous,
	}
	e.pending[entityID] = entry
	return entry
}

// ApplySlotIntent records an optimistic proposal-slot placement or removal.
func (e *Engine) ApplySlotIntent(playerID string, op string, targetIndex int, now time.Time) PendingPatch {
	e.mu.Lock()
	defer e.mu.Unlock()

	entityID := slotEntityPrefix + playerID
	e.seq[entityID]++
	entry := PendingPatch{
		EntityID:  entityID,
		Seq:       e.seq[entityID],
		Reason:    "slot-" + op,
		AppliedAt: now,
		Patch:     map[string]any{"op": op, "index": targetIndex},
	}
	e.pending[entityID] = entry
	return entry
}

// Rollback honors an explicit rollback only when seq matches the currently
// pending entry; late rollbacks for superseded patches are ignored.
func (e *Engine) Rollback(entityID string, seq int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.pending[entityID]
	if !ok || entry.Seq != seq {
		return false
	}
	delete(e.pending, entityID)
	if len(entry.Previous) > 0 {
		restorePlayerFields(&e.base, entityID, entry.Previous)
	}
	return true
}

// ApplySnapshot installs an authoritative snapshot as the new base, confirms
// pending patches whose fields now match, and reports whether the snapshot
// was accepted. Snapshots with a non-increasing statusVersion are discarded.
func (e *Engine) ApplySnapshot(snap room.Snapshot, fromCache bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haveBase && snap.Room.StatusVersion <= e.state.LastVersion {
		return false
	}
	e.base = snap
	e.haveBase = true
	e.state.LastVersion = snap.Room.StatusVersion
	e.state.LastSnapshotFromCache = fromCache
	if fromCache {
		if e.state.CacheOnlySince.IsZero() {
			e.state.CacheOnlySince = snap.ReadAt
		}
	} else {
		e.state.LastServerSnapshotAt = snap.ReadAt
		e.state.CacheOnlySince = time.Time{}
	}

	for id, entry := range e.pending {
		if e.confirmed(entry) {
			delete(e.pending, id)
		}
	}
	return true
}

// OfferPatch is the realtime-bus dedupe gate: only a strictly increasing
// statusVersion is worth acting on.
func (e *Engine) OfferPatch(p room.SyncPatch) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.StatusVersion > e.state.LastVersion
}

// View returns the merged replica: authoritative base with pending patches
// replayed on top. The second result is false until a snapshot has arrived.
func (e *Engine) View() (room.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveBase {
		return room.Snapshot{}, false
	}
	return e.lockedView(), true
}

func (e *Engine) Pending() []PendingPatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingPatch, 0, len(e.pending))
	for _, entry := range e.pending {
		out = append(out, entry)
	}
	return out
}

func (e *Engine) SyncState() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) lockedView() room.Snapshot {
	snap := e.base
	snap.Players = append([]room.Player(nil), e.base.Players...)
	if e.base.Room.Deal != nil {
		deal := *e.base.Room.Deal
		snap.Room.Deal = &deal
	}
	snap.Room.Order.Proposal = append([]string(nil), e.base.Room.Order.Proposal...)

	for _, entry := range e.pending {
		if strings.HasPrefix(entry.EntityID, slotEntityPrefix) {
			continue
		}
		for i := range snap.Players {
			if snap.Players[i].ID != entry.EntityID {
				continue
			}
			applyPlayerFields(&snap.Players[i], entry.Patch)
		}
	}

	// Slot intents replay through the same engine the server uses, so the
	// overlay can never grant an id two slots.
	capacity := len(snap.Room.Order.Proposal)
	if snap.Room.Deal != nil && len(snap.Room.Deal.Players) > 0 {
		capacity = len(snap.Room.Deal.Players)
	}
	for _, entry := range e.pending {
		if !strings.HasPrefix(entry.EntityID, slotEntityPrefix) {
			continue
		}
		playerID := strings.TrimPrefix(entry.EntityID, slotEntityPrefix)
		op, _ := entry.Patch["op"].(string)
		index, _ := entry.Patch["index"].(int)
		action := room.SlotAdd
		if op == SlotRemoved {
			action = room.SlotRemove
		}
		snap.Room.Order.Proposal = room.ApplySlotAction(
			snap.Room.Order.Proposal, capacity, action, playerID, index)
	}
	return snap
}

func (e *Engine) confirmed(entry PendingPatch) bool {
	if strings.HasPrefix(entry.EntityID, slotEntityPrefix) {
		playerID := strings.TrimPrefix(entry.EntityID, slotEntityPrefix)
		placed := false
		for _, id := range e.base.Room.Order.Proposal {
			if id == playerID {
				placed = true
				break
			}
		}
		op, _ := entry.Patch["op"].(string)
		if op == SlotRemoved {
			return !placed
		}
		return placed
	}

	for i := range e.base.Players {
		if e.base.Players[i].ID != entry.EntityID {
			continue
		}
		for field, want := range entry.Patch {
			if playerFieldOf(&e.base.Players[i], field) != want {
				return false
			}
		}
		return true
	}
	return false
}

func playerField(snap room.Snapshot, entityID, field string) any {
	for i := range snap.Players {
		if snap.Players[i].ID == entityID {
			return playerFieldOf(&snap.Players[i], field)
		}
	}
	return nil
}

func playerFieldOf(p *room.Player, field string) any {
	switch field {
	case "clue":
		return p.Clue
	case "ready":
		return p.Ready
	case "name":
		return p.Name
	default:
		return nil
	}
}

func applyPlayerFields(p *room.Player, patch map[string]any) {
	for field, v := range patch {
		switch field {
		case "clue":
			if s, ok := v.(string); ok {
				p.Clue = s
			}
		case "ready":
			if b, ok := v.(bool); ok {
				p.Ready = b
			}
		case "name":
			if s, ok := v.(string); ok {
				p.Name = s
			}
		}
	}
}

func restorePlayerFields(snap *room.Snapshot, entityID string, previous map[string]any) {
	for i := range snap.Players {
		if snap.Players[i].ID == entityID {
			applyPlayerFields(&snap.Players[i], previous)
			return
		}
	}
}
