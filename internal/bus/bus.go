// Package bus carries versioned room patches over NATS. Delivery is
// at-least-once and may reorder; consumers dedupe by statusVersion and fall
// back to an authoritative read when a pushed version is not corroborated.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"parlor/internal/room"
)

const subjectPrefix = "parlor.rooms."

func subjectFor(roomID string) string {
	return subjectPrefix + roomID
}

type Conn struct {
	nc  *nats.Conn
	log *slog.Logger
}

// Connect dials NATS with reconnect handling suitable for a long-lived
// server or client process.
func Connect(url string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "err", err)
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Conn{nc: nc, log: logger}, nil
}

func (c *Conn) Close() {
	c.nc.Close()
}

func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// PublishPatch implements room.PatchPublisher.
func (c *Conn) PublishPatch(ctx context.Context, patch room.SyncPatch) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	if err := c.nc.Publish(subjectFor(patch.RoomID), raw); err != nil {
		return fmt.Errorf("publish patch: %w", err)
	}
	return nil
}

// Subscription delivers patches for one room to a handler. Malformed
// payloads are dropped with a log line; ordering and duplication are the
// consumer's problem by contract.
type Subscription struct {
	sub *nats.Subscription
}

func (c *Conn) SubscribeRoom(roomID string, handler func(room.SyncPatch)) (*Subscription, error) {
	sub, err := c.nc.Subscribe(subjectFor(roomID), func(msg *nats.Msg) {
		var patch room.SyncPatch
		if err := json.Unmarshal(msg.Data, &patch); err != nil {
			c.log.Warn("dropping malformed patch", "subject", msg.Subject, "err", err)
			return
		}
		handler(patch)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subjectFor(roomID), err)
	}
	return &Subscription{sub: sub}, nil
}

func (s *Subscription) Unsubscribe() {
	if s == nil || s.sub == nil {
		return
	}
	_ = s.sub.Unsubscribe()
}
