package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const roomColumns = `
	id, status, status_version, host_id, round, deal, order_state,
	last_command_at, last_active_at,
	start_request_id, deal_request_id, submit_request_id, last_request_id,
	recall_open, round_preparing, reveal_pending, created_by
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var (
		r        Room
		dealRaw  []byte
		orderRaw []byte
	)
	err := row.Scan(
		&r.ID, &r.Status, &r.StatusVersion, &r.HostID, &r.Round, &dealRaw, &orderRaw,
		&r.LastCommandAt, &r.LastActiveAt,
		&r.StartRequestID, &r.DealRequestID, &r.SubmitRequestID, &r.LastRequestID,
		&r.RecallOpen, &r.RoundPreparing, &r.RevealPending, &r.CreatedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, err
	}
	if len(dealRaw) > 0 {
		var d Deal
		if err := json.Unmarshal(dealRaw, &d); err != nil {
			return Room{}, fmt.Errorf("decode deal: %w", err)
		}
		r.Deal = &d
	}
	if len(orderRaw) > 0 {
		if err := json.Unmarshal(orderRaw, &r.Order); err != nil {
			return Room{}, fmt.Errorf("decode order state: %w", err)
		}
	}
	return r, nil
}

func getRoomForUpdate(ctx context.Context, tx pgx.Tx, roomID string) (Room, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = $1
		FOR UPDATE
	`, roomID)
	return scanRoom(row)
}

func (s *Service) getRoom(ctx context.Context, roomID string) (Room, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = $1
	`, roomID)
	return scanRoom(row)
}

func updateRoomTx(ctx context.Context, tx pgx.Tx, r *Room) error {
	var dealRaw []byte
	if r.Deal != nil {
		raw, err := json.Marshal(r.Deal)
		if err != nil {
			return fmt.Errorf("encode deal: %w", err)
		}
		dealRaw = raw
	}
	orderRaw, err := json.Marshal(r.Order)
	if err != nil {
		return fmt.Errorf("encode order state: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE rooms
		SET status = $1, status_version = $2, host_id = $3, round = $4,
		    deal = $5, order_state = $6,
		    last_command_at = $7, last_active_at = $8,
		    start_request_id = $9, deal_request_id = $10,
		    submit_request_id = $11, last_request_id = $12,
		    recall_open = $13, round_preparing = $14, reveal_pending = $15
		WHERE id = $16
	`, r.Status, r.StatusVersion, r.HostID, r.Round,
		dealRaw, orderRaw,
		r.LastCommandAt, r.LastActiveAt,
		r.StartRequestID, r.DealRequestID, r.SubmitRequestID, r.LastRequestID,
		r.RecallOpen, r.RoundPreparing, r.RevealPending, r.ID)
	return err
}

func (s *Service) playersTx(ctx context.Context, tx pgx.Tx, roomID string, now time.Time) ([]Player, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, uid, name, number, clue, ready, order_index, joined_at, last_seen
		FROM room_players
		WHERE room_id = $1
		ORDER BY joined_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectPlayers(rows, now)
}

func (s *Service) players(ctx context.Context, roomID string, now time.Time) ([]Player, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, uid, name, number, clue, ready, order_index, joined_at, last_seen
		FROM room_players
		WHERE room_id = $1
		ORDER BY joined_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectPlayers(rows, now)
}

func (s *Service) collectPlayers(rows pgx.Rows, now time.Time) ([]Player, error) {
	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.UID, &p.Name, &p.Number, &p.Clue, &p.Ready,
			&p.OrderIndex, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, err
		}
		p.IsOnline = now.Sub(p.LastSeen) <= s.cfg.PresenceTTL
		out = append(out, p)
	}
	return out, rows.Err()
}

// Snapshot is the authoritative read path: room plus players, consistent
// enough for reconciliation since clients trust only statusVersion ordering.
func (s *Service) GetSnapshot(ctx context.Context, roomID string) (Snapshot, error) {
	now := s.clock.Now()
	r, err := s.getRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}
	players, err := s.players(ctx, roomID, now)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Room: r, Players: players, ReadAt: now}, nil
}

// insertAudit records a command best-effort, after commit. Audit failures are
// logged and never fail the command.
func (s *Service) insertAudit(ctx context.Context, roomID, command, requestID, actor string, detail map[string]any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte("{}")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO room_audit (id, room_id, command, request_id, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, uuid.NewString(), roomID, command, requestID, actor, string(raw), s.clock.Now())
	if err != nil {
		s.log.Warn("audit insert failed", "room_id", roomID, "command", command, "err", err)
	}
}

func candidatesFromPlayers(players []Player) []Candidate {
	out := make([]Candidate, 0, len(players))
	for _, p := range players {
		out = append(out, Candidate{
			ID:         p.UID,
			JoinedAt:   p.JoinedAt.UnixMilli(),
			OrderIndex: p.OrderIndex,
			LastSeenAt: p.LastSeen.UnixMilli(),
			IsOnline:   p.IsOnline,
			Name:       p.Name,
		})
	}
	return out
}
