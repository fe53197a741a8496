package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"parlor/internal/room"
)

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
		detail string
	}{
		{room.ErrRoomNotFound, "room_not_found", http.StatusNotFound, ""},
		{fmt.Errorf("%w: host_only", room.ErrForbidden), "forbidden", http.StatusForbidden, "host_only"},
		{fmt.Errorf("%w: status_is_clue", room.ErrInvalidStatus), "invalid_status", http.StatusConflict, "status_is_clue"},
		{room.ErrRateLimited, "rate_limited", http.StatusTooManyRequests, ""},
		{room.ErrUnauthorized, "unauthorized", http.StatusUnauthorized, ""},
		{room.ErrRoomFull, "room_full", http.StatusConflict, ""},
		{fmt.Errorf("pgx: broken pipe"), "internal", http.StatusInternalServerError, "pgx: broken pipe"},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: status %d want %d", tc.err, rec.Code, tc.status)
		}
		var body struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%v: bad body: %v", tc.err, err)
		}
		if body.Error != tc.code {
			t.Fatalf("%v: code %q want %q", tc.err, body.Error, tc.code)
		}
		if tc.detail != "" && body.Detail != tc.detail {
			t.Fatalf("%v: detail %q want %q", tc.err, body.Detail, tc.detail)
		}
	}
}

func TestRequestIDPrefersIdempotencyKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/rooms/abcd/start", nil)
	r.Header.Set("Idempotency-Key", "client-key-1")
	if got := requestID(r); got != "client-key-1" {
		t.Fatalf("got %q", got)
	}

	r = httptest.NewRequest(http.MethodPost, "/v1/rooms/abcd/start", nil)
	first := requestID(r)
	if first == "" {
		t.Fatal("expected generated request id")
	}
	if second := requestID(r); second == first {
		t.Fatal("generated ids must not repeat")
	}
}
