package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"parlor/internal/auth"
	"parlor/internal/config"
	"parlor/internal/room"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	auth    *auth.SupabaseClient
	rooms   *room.Service
	mux     *chi.Mux
	handler http.Handler
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient *auth.SupabaseClient, roomSvc *room.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		auth:  authClient,
		rooms: roomSvc,
		mux:   chi.NewRouter(),
	}
	s.routes()
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.mux)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/rooms", s.handleCreateRoom)
			r.Route("/rooms/{roomID}", func(r chi.Router) {
				r.Get("/", s.handleSnapshot)
				r.Post("/join", s.handleJoin)
				r.Post("/leave", s.handleLeave)
				r.Post("/claim-host", s.handleClaimHost)
				r.Post("/start", s.handleStart)
				r.Post("/deal", s.handleDeal)
				r.Post("/proposal", s.handleProposal)
				r.Post("/order", s.handleSubmitOrder)
				r.Post("/clue", s.handleClue)
				r.Post("/finish", s.handleFinish)
				r.Post("/heartbeat", s.handleHeartbeat)
			})
		})
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeCodedError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeCodedError(w, http.StatusUnauthorized, "unauthorized", fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		RoomID string `json:"room_id"`
		Name   string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	snap, err := s.rooms.CreateRoom(r.Context(), room.CreateRoomInput{
		RoomID:    in.RoomID,
		UID:       user.UserID,
		Name:      in.Name,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, err := userFromContext(r.Context()); err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	snap, err := s.rooms.GetSnapshot(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	out, err := s.rooms.Join(r.Context(), room.JoinInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		Name:      in.Name,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	patch, err := s.rooms.Leave(r.Context(), room.LeaveInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleClaimHost(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	patch, err := s.rooms.ClaimHost(r.Context(), room.ClaimHostInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	patch, err := s.rooms.StartRound(r.Context(), room.StartInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		Seed string `json:"seed"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	patch, err := s.rooms.DealNumbers(r.Context(), room.DealInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		Seed:      in.Seed,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		Action      string `json:"action"`
		PlayerID    string `json:"player_id"`
		TargetIndex *int   `json:"target_index"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	target := room.NoSlotIndex
	if in.TargetIndex != nil {
		target = *in.TargetIndex
	}
	patch, err := s.rooms.MutateProposal(r.Context(), room.ProposalInput{
		RoomID:      chi.URLParam(r, "roomID"),
		UID:         user.UserID,
		Action:      room.SlotAction(in.Action),
		PlayerID:    in.PlayerID,
		TargetIndex: target,
		RequestID:   requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		List []string `json:"list"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	patch, err := s.rooms.SubmitOrder(r.Context(), room.SubmitOrderInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		List:      in.List,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleClue(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	var in struct {
		Clue  string `json:"clue"`
		Ready bool   `json:"ready"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeCodedError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	patch, err := s.rooms.SetClue(r.Context(), room.ClueInput{
		RoomID:    chi.URLParam(r, "roomID"),
		UID:       user.UserID,
		Clue:      in.Clue,
		Ready:     in.Ready,
		RequestID: requestID(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	patch, err := s.rooms.Finish(r.Context(), chi.URLParam(r, "roomID"), user.UserID, requestID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patch": patch})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if err := s.rooms.Heartbeat(r.Context(), chi.URLParam(r, "roomID"), user.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	code, status := "internal", http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		code, status = "room_not_found", http.StatusNotFound
	case errors.Is(err, room.ErrForbidden):
		code, status = "forbidden", http.StatusForbidden
	case errors.Is(err, room.ErrInvalidStatus):
		code, status = "invalid_status", http.StatusConflict
	case errors.Is(err, room.ErrRateLimited):
		code, status = "rate_limited", http.StatusTooManyRequests
	case errors.Is(err, room.ErrUnauthorized):
		code, status = "unauthorized", http.StatusUnauthorized
	case errors.Is(err, room.ErrRoomFull):
		code, status = "room_full", http.StatusConflict
	}
	writeCodedError(w, status, code, detailOf(err, code))
}

// detailOf strips the sentinel prefix so "invalid_status: status_is_clue"
// yields detail "status_is_clue".
func detailOf(err error, code string) string {
	msg := strings.TrimSpace(err.Error())
	msg = strings.TrimPrefix(msg, code+":")
	return strings.TrimSpace(msg)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCodedError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{"error": code, "detail": detail})
}

func requestID(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
