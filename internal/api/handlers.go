package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"watchpost/internal/auth"
	"watchpost/internal/database"
	"watchpost/internal/ws"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthStatusResponse tells the dashboard whether it must log in.
type AuthStatusResponse struct {
	Enabled bool   `json:"enabled"`
	User    string `json:"user,omitempty"`
}

// EventView is a stored event plus browser-reachable artifact URLs.
type EventView struct {
	*database.DetectionEvent
	OriginalPhotoURL string `json:"original_photo_url"`
	ZoomPhotoURL     string `json:"zoom_photo_url"`
}

// DeleteResponse mirrors the dashboard's delete contract.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// KnownFacesResponse lists gallery identities.
type KnownFacesResponse struct {
	Names []string `json:"names"`
	Count int      `json:"count"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	token, expires, err := s.deps.Auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		s.writeError(ctx, w, http.StatusBadRequest, err)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		log.Printf("[API] Failed login for %q", req.Username)
		s.writeError(ctx, w, http.StatusUnauthorized, err)
		return
	case err != nil:
		s.writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("failed to issue token: %w", err))
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires})
}

// authStatus is public; a valid bearer token, if sent, names the user.
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	resp := AuthStatusResponse{Enabled: s.deps.Auth.IsEnabled()}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && resp.Enabled {
		if claims, err := s.deps.Auth.ValidateToken(token); err == nil {
			resp.User = claims.Username
		}
	}
	s.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		limit = n
	}

	var status database.Status
	switch v := q.Get("status"); v {
	case "", "all":
	case string(database.StatusKnown), string(database.StatusUnknown):
		status = database.Status(v)
	default:
		s.writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("invalid status %q", v))
		return
	}

	events, err := s.deps.Events.List(ctx, limit, status)
	if err != nil {
		s.writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("failed to list events: %w", err))
		return
	}

	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, EventView{
			DetectionEvent:   ev,
			OriginalPhotoURL: ws.UploadURL(ev.OriginalPhotoPath),
			ZoomPhotoURL:     ws.UploadURL(ev.ZoomPhotoPath),
		})
	}
	s.writeJSON(ctx, w, http.StatusOK, views)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(s.mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeJSON(ctx, w, http.StatusNotFound, DeleteResponse{Success: false})
		return
	}

	err = s.deps.Events.Delete(ctx, id, func(ev *database.DetectionEvent) {
		if s.deps.Artifacts == nil {
			return
		}
		if rmErr := s.deps.Artifacts.Remove(ctx, ev.Paths()...); rmErr != nil {
			log.Printf("[API] Failed to remove artifacts of event %d: %v", id, rmErr)
		}
	})
	switch {
	case errors.Is(err, database.ErrNotFound):
		s.writeJSON(ctx, w, http.StatusNotFound, DeleteResponse{Success: false})
	case err != nil:
		s.writeError(ctx, w, http.StatusInternalServerError, fmt.Errorf("failed to delete event: %w", err))
	default:
		log.Printf("[API] Deleted event %d", id)
		s.writeJSON(ctx, w, http.StatusOK, DeleteResponse{Success: true})
	}
}

func (s *Server) knownFaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Faces.KnownNames()
	if err != nil {
		s.writeError(r.Context(), w, http.StatusInternalServerError, fmt.Errorf("failed to list known faces: %w", err))
		return
	}
	if names == nil {
		names = []string{}
	}
	sort.Strings(names)
	s.writeJSON(r.Context(), w, http.StatusOK, KnownFacesResponse{Names: names, Count: len(names)})
}
