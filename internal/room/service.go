package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

var ErrRoomFull = errors.New("room_full")

// errNoop signals that a command decided no state change is needed; the
// transaction is rolled back and statusVersion is left untouched.
var errNoop = errors.New("no state change")

type Config struct {
	CommandWindow time.Duration
	LeaseTTL      time.Duration
	PresenceTTL   time.Duration
	RoomIdleAfter time.Duration
	DealMin       int
	DealMax       int
}

// PatchPublisher pushes a versioned patch onto the realtime bus. Delivery is
// at-least-once and best-effort here; the authoritative read path covers
// missed pushes.
type PatchPublisher interface {
	PublishPatch(ctx context.Context, patch SyncPatch) error
}

type Service struct {
	db    *pgxpool.Pool
	log   *slog.Logger
	clock clockwork.Clock
	pub   PatchPublisher
	cfg   Config
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, clock clockwork.Clock, pub PatchPublisher, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{db: db, log: logger, clock: clock, pub: pub, cfg: cfg}
}

type commandSpec struct {
	name      string
	uid       string
	requestID string
	hostOnly  bool
	allowed   []Status
	bypass    func(*Room) bool
	mutate    func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error
}

// execute runs one command through the shared pipeline: lease, idempotent
// replay, rate limit, status precondition, atomic room+player transaction,
// lease release, audit, publish.
func (s *Service) execute(ctx context.Context, roomID string, spec commandSpec) (SyncPatch, error) {
	requestID := strings.TrimSpace(spec.requestID)
	if requestID == "" {
		return SyncPatch{}, fmt.Errorf("request id is required")
	}
	holder := spec.name + ":" + requestID
	if err := s.acquireLease(ctx, roomID, holder); err != nil {
		return SyncPatch{}, err
	}
	defer s.releaseLease(ctx, roomID, holder)

	now := s.clock.Now()
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return SyncPatch{}, err
	}
	defer tx.Rollback(ctx)

	r, err := getRoomForUpdate(ctx, tx, roomID)
	if err != nil {
		return SyncPatch{}, err
	}
	players, err := s.playersTx(ctx, tx, roomID, now)
	if err != nil {
		return SyncPatch{}, err
	}

	if spec.hostOnly && r.HostID != spec.uid {
		return SyncPatch{}, forbiddenErr(DetailHostOnly)
	}
	if patch, ok := replayResult(&r, spec.name, requestID, now); ok {
		// Retried request that already completed: hand back the result
		// without re-executing side effects.
		return patch, nil
	}
	if now.Sub(r.LastCommandAt) < s.cfg.CommandWindow {
		if spec.bypass == nil || !spec.bypass(&r) {
			return SyncPatch{}, ErrRateLimited
		}
	}
	if len(spec.allowed) > 0 && !statusAllowed(r.Status, spec.allowed...) {
		return SyncPatch{}, invalidStatusErr(r.Status)
	}

	if err := spec.mutate(ctx, tx, &r, players); err != nil {
		if errors.Is(err, errNoop) {
			return s.patchFor(&r, spec.name, requestID, now), nil
		}
		return SyncPatch{}, err
	}

	r.StatusVersion++
	r.LastCommandAt = now
	r.LastActiveAt = now
	r.LastRequestID = requestID
	if err := updateRoomTx(ctx, tx, &r); err != nil {
		return SyncPatch{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return SyncPatch{}, fmt.Errorf("commit %s: %w", spec.name, err)
	}

	patch := s.patchFor(&r, spec.name, requestID, now)
	s.insertAudit(ctx, r.ID, spec.name, requestID, spec.uid, map[string]any{
		"status":         string(r.Status),
		"status_version": r.StatusVersion,
	})
	s.publish(ctx, patch)
	return patch, nil
}

func (s *Service) patchFor(r *Room, command, requestID string, ts time.Time) SyncPatch {
	return SyncPatch{
		RoomID:        r.ID,
		Status:        r.Status,
		StatusVersion: r.StatusVersion,
		Meta:          PatchMeta{TS: ts, RequestID: requestID, Command: command},
	}
}

func (s *Service) publish(ctx context.Context, patch SyncPatch) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishPatch(ctx, patch); err != nil {
		s.log.Warn("patch publish failed", "room_id", patch.RoomID,
			"status_version", patch.StatusVersion, "err", err)
	}
}

// replayResult reports whether requestID already completed for command, and
// the previously computed patch if so.
func replayResult(r *Room, command, requestID string, ts time.Time) (SyncPatch, bool) {
	if requestID == "" {
		return SyncPatch{}, false
	}
	var done bool
	switch command {
	case "start":
		done = r.StartRequestID == requestID && r.Status == StatusClue
	case "deal":
		done = r.DealRequestID == requestID && r.Deal != nil && r.Deal.Seed != ""
	case "submit-order":
		done = r.SubmitRequestID == requestID && r.Status == StatusReveal
	default:
		done = r.LastRequestID == requestID
	}
	if !done {
		return SyncPatch{}, false
	}
	return SyncPatch{
		RoomID:        r.ID,
		Status:        r.Status,
		StatusVersion: r.StatusVersion,
		Meta:          PatchMeta{TS: ts, RequestID: requestID, Command: command},
	}, true
}

// dealBypassesWindow holds for the first deal of a fresh round, so that a
// start→deal sequence issued back-to-back is not rate limited.
func dealBypassesWindow(r *Room) bool {
	if r.Status != StatusClue || r.DealRequestID != "" {
		return false
	}
	return r.Deal == nil || r.Deal.Seed == ""
}

func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (Snapshot, error) {
	roomID := strings.TrimSpace(in.RoomID)
	if err := ValidateRoomID(roomID); err != nil {
		return Snapshot{}, err
	}
	now := s.clock.Now()
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO rooms (
			id, status, status_version, host_id, round, deal, order_state,
			last_command_at, last_active_at,
			start_request_id, deal_request_id, submit_request_id, last_request_id,
			recall_open, round_preparing, reveal_pending, created_by, created_at
		)
		VALUES ($1, $2, 1, $3, 0, NULL, $4, $5, $5, '', '', '', $6, false, false, false, $3, $5)
		ON CONFLICT (id) DO NOTHING
	`, roomID, StatusWaiting, in.UID, `{"failed_at":-1}`, now, in.RequestID)
	if err != nil {
		return Snapshot{}, err
	}
	if tag.RowsAffected() == 0 {
		return Snapshot{}, fmt.Errorf("room id %q already exists", roomID)
	}
	if err := insertPlayerTx(ctx, tx, roomID, in.UID, sanitizeName(in.Name), 0, now); err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, err
	}

	s.insertAudit(ctx, roomID, "create", in.RequestID, in.UID, map[string]any{"name": in.Name})
	s.publish(ctx, SyncPatch{
		RoomID:        roomID,
		Status:        StatusWaiting,
		StatusVersion: 1,
		Meta:          PatchMeta{TS: now, RequestID: in.RequestID, Command: "create"},
	})
	return s.GetSnapshot(ctx, roomID)
}

func insertPlayerTx(ctx context.Context, tx pgx.Tx, roomID, uid, name string, orderIndex int, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO room_players (room_id, id, uid, name, number, clue, ready, order_index, joined_at, last_seen)
		VALUES ($1, $2, $3, $4, NULL, '', false, $5, $6, $6)
		ON CONFLICT (room_id, uid) DO UPDATE
		SET name = EXCLUDED.name, last_seen = EXCLUDED.last_seen
	`, roomID, uuid.NewString(), uid, name, orderIndex, now)
	return err
}

func (s *Service) Join(ctx context.Context, in JoinInput) (JoinResult, error) {
	var result JoinResult
	patch, err := s.execute(ctx, in.RoomID, commandSpec{
		name:      "join",
		uid:       in.UID,
		requestID: in.RequestID,
		bypass:    func(*Room) bool { return true },
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			for _, p := range players {
				if p.UID == in.UID {
					// Re-join refreshes presence only.
					if err := insertPlayerTx(ctx, tx, r.ID, in.UID, sanitizeName(in.Name), p.OrderIndex, s.clock.Now()); err != nil {
						return err
					}
					result.PlayerID = p.ID
					result.PlayerCount = len(players)
					return nil
				}
			}
			if len(players) >= MaxPlayers {
				return ErrRoomFull
			}
			if err := insertPlayerTx(ctx, tx, r.ID, in.UID, sanitizeName(in.Name), len(players), s.clock.Now()); err != nil {
				return err
			}
			result.PlayerCount = len(players) + 1
			if r.HostID == "" {
				r.HostID = in.UID
			}
			return nil
		},
	})
	if err != nil {
		return JoinResult{}, err
	}
	result.Patch = patch
	return result, nil
}

func (s *Service) Leave(ctx context.Context, in LeaveInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "leave",
		uid:       in.UID,
		requestID: in.RequestID,
		bypass:    func(*Room) bool { return true },
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			tag, err := tx.Exec(ctx, `
				DELETE FROM room_players
				WHERE room_id = $1 AND uid = $2
			`, r.ID, in.UID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return forbiddenErr(DetailActorNotPlayer)
			}
			decision := EvaluateAfterLeave(candidatesFromPlayers(players), in.UID, r.HostID)
			switch decision.Kind {
			case DecideAssign:
				r.HostID = decision.HostID
			case DecideClear:
				r.HostID = ""
			}
			return nil
		},
	})
}

func (s *Service) ClaimHost(ctx context.Context, in ClaimHostInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "claim-host",
		uid:       in.UID,
		requestID: in.RequestID,
		bypass:    func(*Room) bool { return true },
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			decision := EvaluateClaim(candidatesFromPlayers(players), "", r.HostID, in.UID)
			switch decision.Kind {
			case DecideAssign:
				r.HostID = decision.HostID
				s.log.Info("host assigned", "room_id", r.ID, "host_id", r.HostID, "reason", decision.Reason)
				return nil
			case DecideClear:
				r.HostID = ""
				return nil
			default:
				return errNoop
			}
		},
	})
}

func (s *Service) StartRound(ctx context.Context, in StartInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "start",
		uid:       in.UID,
		requestID: in.RequestID,
		hostOnly:  true,
		allowed:   []Status{StatusWaiting, StatusReveal, StatusFinished},
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			if len(players) == 0 {
				return forbiddenErr(DetailActorNotPlayer)
			}
			var seats map[string]int
			if r.Deal != nil {
				seats = r.Deal.SeatHistory
			}
			r.Status = StatusClue
			r.Round++
			// Seat history survives between rounds; numbers do not.
			if len(seats) > 0 {
				r.Deal = &Deal{SeatHistory: seats}
			} else {
				r.Deal = nil
			}
			r.Order = OrderState{FailedAt: NoFailedIndex}
			r.StartRequestID = in.RequestID
			r.DealRequestID = ""
			r.SubmitRequestID = ""
			r.RoundPreparing = true
			r.RevealPending = false
			r.RecallOpen = false
			_, err := tx.Exec(ctx, `
				UPDATE room_players
				SET number = NULL, clue = '', ready = false
				WHERE room_id = $1
			`, r.ID)
			return err
		},
	})
}

func (s *Service) DealNumbers(ctx context.Context, in DealInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "deal",
		uid:       in.UID,
		requestID: in.RequestID,
		hostOnly:  true,
		allowed:   []Status{StatusClue},
		bypass:    dealBypassesWindow,
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			targets := onlinePlayers(players)
			if len(targets) == 0 {
				// Presence unavailable or nobody reported in: deal to
				// everyone we know rather than nobody.
				targets = players
			}
			seed := strings.TrimSpace(in.Seed)
			if seed == "" {
				seed = uuid.NewString()
			}
			ids := make([]string, 0, len(targets))
			for _, p := range targets {
				ids = append(ids, p.ID)
			}
			numbers, err := GenerateNumbers(seed, ids, s.cfg.DealMin, s.cfg.DealMax)
			if err != nil {
				return err
			}

			seats := make(map[string]int, len(ids))
			if r.Deal != nil {
				for id, n := range r.Deal.SeatHistory {
					seats[id] = n
				}
			}
			for _, id := range ids {
				seats[id]++
			}

			r.Deal = &Deal{
				Numbers:     numbers,
				Seed:        seed,
				Min:         s.cfg.DealMin,
				Max:         s.cfg.DealMax,
				Players:     ids,
				SeatHistory: seats,
			}
			r.Order = OrderState{
				Proposal:     make([]string, len(ids)),
				ProposalSeed: seed,
				FailedAt:     NoFailedIndex,
			}
			r.DealRequestID = in.RequestID
			r.RoundPreparing = false

			if _, err := tx.Exec(ctx, `
				UPDATE room_players
				SET number = NULL, ready = false
				WHERE room_id = $1
			`, r.ID); err != nil {
				return err
			}
			for _, id := range ids {
				if _, err := tx.Exec(ctx, `
					UPDATE room_players
					SET number = $1
					WHERE room_id = $2 AND id = $3
				`, numbers[id], r.ID, id); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

func (s *Service) MutateProposal(ctx context.Context, in ProposalInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "mutate-proposal",
		uid:       in.UID,
		requestID: in.RequestID,
		allowed:   []Status{StatusClue},
		bypass:    func(*Room) bool { return true },
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			if !ValidSlotAction(in.Action) {
				return fmt.Errorf("unknown slot action %q", in.Action)
			}
			if r.Deal == nil || r.Deal.Seed == "" {
				return fmt.Errorf("no deal for the current round")
			}
			if !isRoundActor(r, players, in.UID) {
				return forbiddenErr(DetailActorNotPlayer)
			}
			if !isRoundParticipantID(r, in.PlayerID) {
				return fmt.Errorf("player %q is not in the current round", in.PlayerID)
			}
			capacity := len(r.Deal.Players)
			slots := ReconcileProposal(r.Order.Proposal, r.Order.ProposalSeed, r.Deal.Seed, capacity)
			r.Order.Proposal = ApplySlotAction(slots, capacity, in.Action, in.PlayerID, in.TargetIndex)
			r.Order.ProposalSeed = r.Deal.Seed
			return nil
		},
	})
}

func (s *Service) SubmitOrder(ctx context.Context, in SubmitOrderInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "submit-order",
		uid:       in.UID,
		requestID: in.RequestID,
		hostOnly:  true,
		allowed:   []Status{StatusClue},
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			if r.Deal == nil || len(r.Deal.Numbers) == 0 {
				return fmt.Errorf("no deal for the current round")
			}
			result, err := EvaluateOrder(in.List, r.Deal.Numbers)
			if err != nil {
				return err
			}
			result.Proposal = r.Order.Proposal
			result.ProposalSeed = r.Order.ProposalSeed
			r.Order = result
			r.Status = StatusReveal
			r.SubmitRequestID = in.RequestID
			r.RevealPending = true
			r.RecallOpen = result.Failed
			return nil
		},
	})
}

// SetClue is the participant-facing mutation clients apply optimistically.
func (s *Service) SetClue(ctx context.Context, in ClueInput) (SyncPatch, error) {
	return s.execute(ctx, in.RoomID, commandSpec{
		name:      "set-clue",
		uid:       in.UID,
		requestID: in.RequestID,
		allowed:   []Status{StatusClue},
		bypass:    func(*Room) bool { return true },
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			tag, err := tx.Exec(ctx, `
				UPDATE room_players
				SET clue = $1, ready = $2, last_seen = $3
				WHERE room_id = $4 AND uid = $5
			`, sanitizeClue(in.Clue), in.Ready, s.clock.Now(), r.ID, in.UID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return forbiddenErr(DetailActorNotPlayer)
			}
			return nil
		},
	})
}

func (s *Service) Finish(ctx context.Context, roomID, uid, requestID string) (SyncPatch, error) {
	return s.execute(ctx, roomID, commandSpec{
		name:      "finish",
		uid:       uid,
		requestID: requestID,
		hostOnly:  true,
		allowed:   []Status{StatusReveal},
		mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
			r.Status = StatusFinished
			r.RevealPending = false
			r.RecallOpen = false
			return nil
		},
	})
}

// Heartbeat is the presence write. It does not version the room.
func (s *Service) Heartbeat(ctx context.Context, roomID, uid string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE room_players
		SET last_seen = $1
		WHERE room_id = $2 AND uid = $3
	`, s.clock.Now(), roomID, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return forbiddenErr(DetailActorNotPlayer)
	}
	return nil
}

// SweepIdleRooms finishes rooms with no accepted command for longer than the
// idle threshold. Runs from the worker.
func (s *Service) SweepIdleRooms(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.RoomIdleAfter)
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM rooms
		WHERE status <> $1 AND last_active_at < $2
		LIMIT 100
	`, StatusFinished, cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		_, err := s.execute(ctx, id, commandSpec{
			name:      "sweep",
			uid:       "system",
			requestID: uuid.NewString(),
			bypass:    func(*Room) bool { return true },
			mutate: func(ctx context.Context, tx pgx.Tx, r *Room, players []Player) error {
				if r.Status == StatusFinished {
					return errNoop
				}
				r.Status = StatusFinished
				r.RevealPending = false
				r.RecallOpen = false
				return nil
			},
		})
		if err != nil {
			// A busy lease just means the room is no longer idle.
			if errors.Is(err, ErrRateLimited) {
				continue
			}
			s.log.Warn("idle sweep failed", "room_id", id, "err", err)
			continue
		}
		swept++
	}
	return swept, nil
}

func onlinePlayers(players []Player) []Player {
	var out []Player
	for _, p := range players {
		if p.IsOnline {
			out = append(out, p)
		}
	}
	return out
}

func isRoundActor(r *Room, players []Player, uid string) bool {
	if uid == r.HostID || uid == r.CreatedBy {
		return true
	}
	for _, p := range players {
		if p.UID != uid {
			continue
		}
		return isRoundParticipantID(r, p.ID)
	}
	return false
}

func isRoundParticipantID(r *Room, playerID string) bool {
	if r.Deal == nil {
		return false
	}
	for _, id := range r.Deal.Players {
		if id == playerID {
			return true
		}
	}
	return false
}
