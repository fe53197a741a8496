package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	cl "parlor/internal/cli"
	"parlor/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "prl",
		Short:        "Parlor CLI room client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newCreateCmd(&apiBase),
		newJoinCmd(&apiBase),
		newLeaveCmd(&apiBase),
		newClaimCmd(&apiBase),
		newStartCmd(&apiBase),
		newDealCmd(&apiBase),
		newProposeCmd(&apiBase),
		newSubmitCmd(&apiBase),
		newClueCmd(&apiBase),
		newFinishCmd(&apiBase),
		newStatusCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase, cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	session, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, errors.New("not logged in; run `prl login` first")
	}
	return session, nil
}

// queueIfOffline stashes a mutation for `prl sync` when the API is
// unreachable. Domain rejections are never queued; replaying those would
// just fail again.
func queueIfOffline(err error, intent cl.Intent) bool {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	intent.QueuedAt = time.Now().UTC()
	if pushErr := cl.PushIntent(intent); pushErr != nil {
		printError(fmt.Sprintf("Could not queue command: %v", pushErr))
		return false
	}
	printWarn(fmt.Sprintf("Offline. Queued %s %s for `prl sync`.", intent.Method, intent.Path))
	return true
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Parlor account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `prl login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to Parlor",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			session, err := client.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newCreateCmd(apiBase *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <room-id>",
		Short: "Create a room and become its host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			if name == "" {
				name, err = promptRequired("Display name")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			snap, err := newClient(apiBase).CreateRoom(ctx, session.AccessToken, args[0], name, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess("Room created.")
			renderSnapshot(snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newJoinCmd(apiBase *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			if name == "" {
				name, err = promptRequired("Display name")
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			result, err := newClient(apiBase).Join(ctx, session.AccessToken, args[0], name, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined as player %s (%d in room).", result.PlayerID, result.PlayerCount))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newLeaveCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <room-id>",
		Short: "Leave a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "leave", nil)
		},
	}
}

func newClaimCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <room-id>",
		Short: "Claim host if the seat is vacant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "claim-host", nil)
		},
	}
}

func newStartCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <room-id>",
		Short: "Start a round (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "start", nil)
		},
	}
}

func newDealCmd(apiBase *string) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "deal <room-id>",
		Short: "Deal numbers to online players (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if seed != "" {
				body["seed"] = seed
			}
			return runPatchCmd(cmd, apiBase, args[0], "deal", body)
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "deterministic deal seed")
	return cmd
}

func newProposeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "propose <room-id> <add|remove|move> <player-id> [target-index]",
		Short: "Edit the shared order proposal",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetIndex := -1
			if len(args) == 4 {
				n, err := strconv.Atoi(args[3])
				if err != nil {
					return fmt.Errorf("target-index must be a number: %w", err)
				}
				targetIndex = n
			}
			body := map[string]any{
				"action":       args[1],
				"player_id":    args[2],
				"target_index": targetIndex,
			}
			return runPatchCmd(cmd, apiBase, args[0], "proposal", body)
		},
	}
}

func newSubmitCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <room-id> <player-id>...",
		Short: "Submit the final order for reveal (host only)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "order", map[string]any{
				"list": args[1:],
			})
		},
	}
}

func newClueCmd(apiBase *string) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "clue <room-id> <text>",
		Short: "Set your clue for the current round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "clue", map[string]any{
				"clue":  args[1],
				"ready": ready,
			})
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "mark yourself ready")
	return cmd
}

func newFinishCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <room-id>",
		Short: "Close out a revealed round (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatchCmd(cmd, apiBase, args[0], "finish", nil)
		},
	}
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <room-id>",
		Short: "Fetch and print the room snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			snap, err := newClient(apiBase).Snapshot(ctx, session.AccessToken, args[0])
			if err != nil {
				return err
			}
			renderSnapshot(snap)
			return cl.SaveSnapshotCache(snap)
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay commands queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			results, err := cl.ReplayQueue(ctx, newClient(apiBase), session.AccessToken)
			if err != nil {
				return err
			}
			replayed := 0
			for _, res := range results {
				if res.Err != nil {
					printError(fmt.Sprintf("Sync failed for %s %s: %v", res.Intent.Method, res.Intent.Path, res.Err))
					continue
				}
				replayed++
			}
			remaining, err := cl.LoadQueue()
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

// runPatchCmd is the shared body of every single-room mutation command:
// resolve session, POST with a fresh idempotency key, queue when offline,
// print the accepted patch.
func runPatchCmd(cmd *cobra.Command, apiBase *string, roomID, action string, body map[string]any) error {
	session, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	idem := uuid.NewString()
	path := "/v1/rooms/" + roomID + "/" + action
	out, err := newClient(apiBase).Do(ctx, http.MethodPost, path, session.AccessToken, body, idem)
	if err != nil {
		if queueIfOffline(err, cl.Intent{
			Method:         http.MethodPost,
			Path:           path,
			Body:           body,
			IdempotencyKey: idem,
			RoomID:         roomID,
		}) {
			return nil
		}
		return err
	}
	patch, _ := out["patch"].(map[string]any)
	status, _ := patch["status"].(string)
	version, _ := patch["status_version"].(float64)
	printSuccess(fmt.Sprintf("%s accepted: room=%s status=%s v%d", action, roomID, status, int64(version)))
	return nil
}
