package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Intent is a room command queued while offline. The original idempotency
// key rides along so a replay after reconnect applies at most once even if
// the command already went through before the connection dropped.
type Intent struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	RoomID         string         `json:"room_id"`
	QueuedAt       time.Time      `json:"queued_at"`
}

type ReplayResult struct {
	Intent Intent
	Err    error
}

func queuePath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func LoadQueue() ([]Intent, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Intent{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Intent{}, nil
	}
	var out []Intent
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func SaveQueue(intents []Intent) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(intents, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func PushIntent(intent Intent) error {
	intents, err := LoadQueue()
	if err != nil {
		return err
	}
	intents = append(intents, intent)
	return SaveQueue(intents)
}

// ReplayQueue drains the queue in order. Transient conflicts stop the drain
// so ordering is preserved; everything already applied is removed.
func ReplayQueue(ctx context.Context, client *Client, token string) ([]ReplayResult, error) {
	intents, err := LoadQueue()
	if err != nil {
		return nil, err
	}
	var results []ReplayResult
	remaining := intents
	for i, intent := range intents {
		_, err := client.Do(ctx, intent.Method, intent.Path, token, intent.Body, intent.IdempotencyKey)
		results = append(results, ReplayResult{Intent: intent, Err: err})
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Retryable() {
				remaining = intents[i:]
				if saveErr := SaveQueue(remaining); saveErr != nil {
					return results, saveErr
				}
				return results, nil
			}
			// Fatal failures are dropped from the queue; replaying them
			// again would not help.
		}
		remaining = intents[i+1:]
	}
	if err := SaveQueue(remaining); err != nil {
		return results, err
	}
	return results, nil
}
