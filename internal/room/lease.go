package room

import (
	"context"
	"fmt"
)

// The room lock is a lease row with compare-and-set semantics: a lease can be
// taken only if none exists or the existing one has expired. Expiry is
// wall-clock so a crashed holder cannot wedge the room.

func (s *Service) acquireLease(ctx context.Context, roomID, holder string) error {
	now := s.clock.Now()
	tag, err := s.db.Exec(ctx, `
		INSERT INTO room_leases (room_id, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE room_leases.expires_at < $4
	`, roomID, holder, now.Add(s.cfg.LeaseTTL), now)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) releaseLease(ctx context.Context, roomID, holder string) {
	_, err := s.db.Exec(ctx, `
		DELETE FROM room_leases
		WHERE room_id = $1 AND holder = $2
	`, roomID, holder)
	if err != nil {
		s.log.Error("lease release failed", "room_id", roomID, "holder", holder, "err", err)
	}
}

// ReapExpiredLeases deletes leases past expiry. The CAS acquire already steps
// over expired leases; this keeps the table from accumulating them.
func (s *Service) ReapExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM room_leases
		WHERE expires_at < $1
	`, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
