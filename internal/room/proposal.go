package room

type SlotAction string

const (
	SlotAdd    SlotAction = "add"
	SlotRemove SlotAction = "remove"
	SlotMove   SlotAction = "move"
)

func ValidSlotAction(a SlotAction) bool {
	return a == SlotAdd || a == SlotRemove || a == SlotMove
}

// ReconcileProposal returns the stored proposal, or an empty slot array when
// the stored seed no longer matches the room's current deal seed. A stale
// proposal must never leak slots across rounds.
func ReconcileProposal(stored []string, storedSeed, currentSeed string, capacity int) []string {
	if storedSeed != currentSeed {
		return make([]string, capacity)
	}
	return normalizeSlots(stored, capacity)
}

// ApplySlotAction applies one add/remove/move to a copy of slots and returns
// the normalized result: no duplicate ids, length exactly capacity.
func ApplySlotAction(slots []string, capacity int, action SlotAction, playerID string, targetIndex int) []string {
	if capacity <= 0 || playerID == "" {
		return normalizeSlots(slots, capacity)
	}
	next := normalizeSlots(slots, capacity)

	switch action {
	case SlotAdd:
		next = slotAdd(next, capacity, playerID, targetIndex)
	case SlotRemove:
		for i, id := range next {
			if id == playerID {
				next[i] = ""
			}
		}
	case SlotMove:
		next = slotMove(next, capacity, playerID, targetIndex)
	}
	return normalizeSlots(next, capacity)
}

func slotAdd(slots []string, capacity int, playerID string, targetIndex int) []string {
	current := indexOf(slots, playerID)
	if current >= 0 {
		// Already placed: only a different explicit target relocates.
		if targetIndex >= 0 && targetIndex < capacity && targetIndex != current {
			return slotMove(slots, capacity, playerID, targetIndex)
		}
		return slots
	}
	if targetIndex >= 0 && targetIndex < len(slots) {
		if slots[targetIndex] == "" {
			slots[targetIndex] = playerID
			return slots
		}
	}
	for i, id := range slots {
		if id == "" {
			slots[i] = playerID
			return slots
		}
	}
	if len(slots) < capacity {
		slots = append(slots, playerID)
	}
	return slots
}

func slotMove(slots []string, capacity int, playerID string, targetIndex int) []string {
	if targetIndex < 0 || targetIndex >= capacity {
		return slots
	}
	for len(slots) <= targetIndex {
		slots = append(slots, "")
	}
	source := indexOf(slots, playerID)
	occupant := slots[targetIndex]
	if occupant != "" && occupant != playerID {
		// Swap with the occupant; a player moved onto an occupied slot
		// takes it over and the occupant takes the vacated one.
		if source >= 0 {
			slots[source] = occupant
		}
		slots[targetIndex] = playerID
		return slots
	}
	if source >= 0 {
		slots[source] = ""
	}
	slots[targetIndex] = playerID
	return slots
}

// normalizeSlots keeps the first occurrence of every id, clears later
// duplicates, and pads or truncates to exactly capacity.
func normalizeSlots(slots []string, capacity int) []string {
	if capacity < 0 {
		capacity = 0
	}
	out := make([]string, capacity)
	seen := make(map[string]bool, len(slots))
	for i := 0; i < len(slots) && i < capacity; i++ {
		id := slots[i]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out[i] = id
	}
	return out
}

func indexOf(slots []string, playerID string) int {
	for i, id := range slots {
		if id == playerID {
			return i
		}
	}
	return -1
}

// ProposalComplete reports whether every slot is occupied.
func ProposalComplete(slots []string) bool {
	if len(slots) == 0 {
		return false
	}
	for _, id := range slots {
		if id == "" {
			return false
		}
	}
	return true
}
