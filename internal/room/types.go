package room

import "time"

// Room is the shared mutable session record all clients synchronize against.
type Room struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	StatusVersion   int64      `json:"status_version"`
	HostID          string     `json:"host_id"`
	Round           int        `json:"round"`
	Deal            *Deal      `json:"deal,omitempty"`
	Order           OrderState `json:"order"`
	LastCommandAt   time.Time  `json:"last_command_at"`
	LastActiveAt    time.Time  `json:"last_active_at"`
	StartRequestID  string     `json:"start_request_id,omitempty"`
	DealRequestID   string     `json:"deal_request_id,omitempty"`
	SubmitRequestID string     `json:"submit_request_id,omitempty"`
	LastRequestID   string     `json:"last_request_id,omitempty"`
	RecallOpen      bool       `json:"recall_open"`
	RoundPreparing  bool       `json:"round_preparing"`
	RevealPending   bool       `json:"reveal_pending"`
	CreatedBy       string     `json:"created_by"`
}

// Deal is the numeric round data for the current round.
type Deal struct {
	Numbers     map[string]int `json:"numbers"`
	Seed        string         `json:"seed"`
	Min         int            `json:"min"`
	Max         int            `json:"max"`
	Players     []string       `json:"players"`
	SeatHistory map[string]int `json:"seat_history"`
}

// OrderState stages and records the cooperative player ordering.
// Proposal is a fixed-capacity slot array; empty slots hold "".
type OrderState struct {
	List         []string `json:"list"`
	Proposal     []string `json:"proposal"`
	ProposalSeed string   `json:"proposal_seed,omitempty"`
	Total        int      `json:"total"`
	Failed       bool     `json:"failed"`
	FailedAt     int      `json:"failed_at"`
}

type Player struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Name       string    `json:"name"`
	Number     *int      `json:"number,omitempty"`
	Clue       string    `json:"clue"`
	Ready      bool      `json:"ready"`
	OrderIndex int       `json:"order_index"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeen   time.Time `json:"last_seen"`
	IsOnline   bool      `json:"is_online"`
}

// Snapshot is one authoritative read of a room and its players.
type Snapshot struct {
	Room    Room      `json:"room"`
	Players []Player  `json:"players"`
	ReadAt  time.Time `json:"read_at"`
}

// SyncPatch is the versioned patch emitted after every accepted command,
// both on the realtime bus and in command responses.
type SyncPatch struct {
	RoomID        string    `json:"room_id"`
	Status        Status    `json:"status"`
	StatusVersion int64     `json:"status_version"`
	Meta          PatchMeta `json:"meta"`
}

type PatchMeta struct {
	TS        time.Time `json:"ts"`
	RequestID string    `json:"request_id"`
	Command   string    `json:"command"`
}

type CreateRoomInput struct {
	RoomID    string
	UID       string
	Name      string
	RequestID string
}

type JoinInput struct {
	RoomID    string
	UID       string
	Name      string
	RequestID string
}

type JoinResult struct {
	PlayerID    string    `json:"player_id"`
	PlayerCount int       `json:"player_count"`
	Patch       SyncPatch `json:"patch"`
}

type LeaveInput struct {
	RoomID    string
	UID       string
	RequestID string
}

type ClaimHostInput struct {
	RoomID    string
	UID       string
	RequestID string
}

type StartInput struct {
	RoomID    string
	UID       string
	RequestID string
}

type DealInput struct {
	RoomID    string
	UID       string
	Seed      string
	RequestID string
}

type ProposalInput struct {
	RoomID      string
	UID         string
	Action      SlotAction
	PlayerID    string
	TargetIndex int // NoSlotIndex when absent
	RequestID   string
}

type SubmitOrderInput struct {
	RoomID    string
	UID       string
	List      []string
	RequestID string
}

type ClueInput struct {
	RoomID    string
	UID       string
	Clue      string
	Ready     bool
	RequestID string
}
