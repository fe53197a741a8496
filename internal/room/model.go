package room

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusClue     Status = "clue"
	StatusReveal   Status = "reveal"
	StatusFinished Status = "finished"
)

const (
	MaxPlayers    = 12
	MaxClueLen    = 80
	MaxNameLen    = 24
	NoFailedIndex = -1
	NoSlotIndex   = -1
)

var (
	ErrRoomNotFound  = errors.New("room_not_found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrRateLimited   = errors.New("rate_limited")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Forbidden details.
const (
	DetailHostOnly       = "host_only"
	DetailActorNotPlayer = "actor_not_participant"
)

var roomIDRE = regexp.MustCompile(`^[a-z0-9]{4,16}$`)

func ValidateRoomID(id string) error {
	if !roomIDRE.MatchString(strings.TrimSpace(id)) {
		return fmt.Errorf("room id must be 4-16 lowercase letters or digits")
	}
	return nil
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusWaiting, StatusClue, StatusReveal, StatusFinished:
		return true
	}
	return false
}

// statusAllowed reports whether a command may run from the given status.
func statusAllowed(current Status, allowed ...Status) bool {
	for _, s := range allowed {
		if current == s {
			return true
		}
	}
	return false
}

func forbiddenErr(detail string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, detail)
}

func invalidStatusErr(current Status) error {
	return fmt.Errorf("%w: status_is_%s", ErrInvalidStatus, current)
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	return name
}

func sanitizeClue(clue string) string {
	clue = strings.TrimSpace(clue)
	if len(clue) > MaxClueLen {
		clue = clue[:MaxClueLen]
	}
	return clue
}
