package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"parlor/internal/room"
)

// Snapshot cache lets `prl watch` come up with a stale-but-usable view
// before the first server round trip completes.

func snapshotCachePath(roomID string) (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	sub := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(sub, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(sub, roomID+".json"), nil
}

func SaveSnapshotCache(snap room.Snapshot) error {
	path, err := snapshotCachePath(snap.Room.ID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadSnapshotCache(roomID string) (room.Snapshot, bool) {
	path, err := snapshotCachePath(roomID)
	if err != nil {
		return room.Snapshot{}, false
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return room.Snapshot{}, false
	}
	var snap room.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return room.Snapshot{}, false
	}
	return snap, true
}
