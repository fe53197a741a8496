package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"parlor/internal/bus"
	cl "parlor/internal/cli"
	"parlor/internal/config"
	"parlor/internal/replica"
	"parlor/internal/room"
	"parlor/internal/watchdog"

	"github.com/spf13/cobra"
)

func newWatchCmd(apiBase *string, cfg config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <room-id>",
		Short: "Follow a room live with automatic recovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), newClient(apiBase), cfg, session, args[0])
		},
	}
}

func runWatch(ctx context.Context, client *cl.Client, cfg config.CLIConfig, session cl.Session, roomID string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	engine := replica.New()
	engine.Start(time.Now().UTC())

	// A cached snapshot gives an immediate, possibly stale view.
	if snap, ok := cl.LoadSnapshotCache(roomID); ok {
		if engine.ApplySnapshot(snap, true) {
			printWarn("Showing cached state while syncing...")
			renderSnapshot(snap)
		}
	}

	refresh := func() bool {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		snap, err := client.Snapshot(fetchCtx, session.AccessToken, roomID)
		if err != nil {
			printWarn(fmt.Sprintf("Refresh failed: %v", err))
			return false
		}
		if engine.ApplySnapshot(snap, false) {
			if err := cl.SaveSnapshotCache(snap); err != nil {
				logger.Warn("snapshot cache write failed", "err", err)
			}
			renderSnapshot(snap)
		}
		return true
	}
	apiReachable := refresh()

	busConn, err := bus.Connect(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connect realtime bus: %w", err)
	}
	defer busConn.Close()

	patches := make(chan room.SyncPatch, 16)
	subscribe := func() (*bus.Subscription, error) {
		return busConn.SubscribeRoom(roomID, func(p room.SyncPatch) {
			select {
			case patches <- p:
			default:
			}
		})
	}
	sub, err := subscribe()
	if err != nil {
		return err
	}
	defer func() { sub.Unsubscribe() }()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	ticks := time.NewTicker(time.Second)
	defer ticks.Stop()

	var episode watchdog.Episode
	printInfo("Watching " + roomID + ". Ctrl-C to stop.")

	for {
		select {
		case <-ctx.Done():
			return nil

		case p := <-patches:
			if engine.OfferPatch(p) {
				apiReachable = refresh()
			}

		case <-heartbeat.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := client.Heartbeat(hbCtx, session.AccessToken, roomID); err != nil {
				logger.Warn("heartbeat failed", "err", err)
			}
			cancel()

		case <-ticks.C:
			state := engine.SyncState()
			out := watchdog.Evaluate(cfg.Watchdog, watchdog.Input{
				NowMs:                  time.Now().UnixMilli(),
				Online:                 busConn.IsConnected() || apiReachable,
				SyncStartedAtMs:        unixMs(state.SyncStartedAt),
				LastServerSnapshotAtMs: unixMs(state.LastServerSnapshotAt),
				LastSnapshotFromCache:  state.LastSnapshotFromCache,
				CacheOnlySinceMs:       unixMs(state.CacheOnlySince),
				Episode:                episode,
			})
			episode = out.NextEpisode

			if trace, next := watchdog.ShouldTrace(cfg.Watchdog, time.Now().UnixMilli(), episode); trace {
				episode = next
				printWarn(fmt.Sprintf("Sync is %s (%s), recovery attempt %d", out.Health, out.StaleKind, out.NextRecoveryAttempts))
			}
			if out.Exhausted {
				printError("Recovery attempts exhausted; backing off.")
			}
			if out.ShouldRestartListener {
				sub.Unsubscribe()
				if sub, err = subscribe(); err != nil {
					logger.Warn("listener restart failed", "err", err)
				} else {
					printInfo("Restarted realtime listener.")
				}
			}
			if out.ShouldForceRefresh {
				apiReachable = refresh()
			}
		}
	}
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
