// Package api serves the dashboard HTTP surface.
package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	"goa.design/goa/v3/middleware"

	"watchpost/internal/auth"
	"watchpost/internal/database"
	appmw "watchpost/internal/middleware"
	"watchpost/internal/stream"
)

// EventStore is the part of the event log the dashboard uses.
type EventStore interface {
	List(ctx context.Context, limit int, status database.Status) ([]*database.DetectionEvent, error)
	Delete(ctx context.Context, id int64, cleanup func(*database.DetectionEvent)) error
}

// ArtifactRemover deletes artifact files.
type ArtifactRemover interface {
	Remove(ctx context.Context, paths ...string) error
}

// KnownFaces lists gallery identities.
type KnownFaces interface {
	KnownNames() ([]string, error)
}

// UploadFiles opens artifact files by bare name.
type UploadFiles interface {
	Open(name string) (*os.File, error)
}

// Authenticator issues and checks dashboard tokens.
type Authenticator interface {
	IsEnabled() bool
	Authenticate(username, password string) (string, time.Time, error)
	ValidateToken(token string) (*auth.Claims, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators behind the routes.
type Deps struct {
	Events    EventStore
	Artifacts ArtifactRemover
	Faces     KnownFaces
	Preview   stream.FrameBuffer
	Uploads   UploadFiles
	Auth      Authenticator
	EventsWS  http.Handler
	StreamFPS int
	Checks    map[string]HealthCheck
}

// Server routes dashboard requests.
type Server struct {
	deps   Deps
	mux    goahttp.Muxer
	logger *log.Logger
	Mounts []Mount
}

// Mount describes one registered route.
type Mount struct {
	Verb    string
	Pattern string
}

// New builds the router.
func New(deps Deps, logger *log.Logger) *Server {
	s := &Server{deps: deps, mux: goahttp.NewMuxer(), logger: logger}

	protect := appmw.AuthMiddleware(deps.Auth)

	s.handle("POST", "/api/auth/login", http.HandlerFunc(s.login))
	s.handle("GET", "/api/auth/status", http.HandlerFunc(s.authStatus))
	s.handle("GET", "/api/events", protect(http.HandlerFunc(s.listEvents)))
	s.handle("DELETE", "/api/events/{id}", protect(http.HandlerFunc(s.deleteEvent)))
	s.handle("GET", "/api/known_faces", protect(http.HandlerFunc(s.knownFaces)))
	s.handle("GET", "/api/snapshot", protect(stream.NewSnapshotHandler(deps.Preview)))
	s.handle("GET", "/stream", protect(stream.NewMJPEGHandler(deps.Preview, deps.StreamFPS)))
	s.handle("GET", "/uploads/{file}", protect(http.HandlerFunc(s.upload)))
	s.handle("GET", "/health", http.HandlerFunc(s.health))
	s.handle("GET", "/metrics", promhttp.Handler())
	if deps.EventsWS != nil {
		s.handle("GET", "/ws/events", protect(deps.EventsWS))
	}
	return s
}

func (s *Server) handle(verb, pattern string, h http.Handler) {
	s.mux.Handle(verb, pattern, h.ServeHTTP)
	s.Mounts = append(s.Mounts, Mount{Verb: verb, Pattern: pattern})
}

// Handler wraps the muxer with request ids, logging and metrics. debug also
// dumps request and response bodies.
func (s *Server) Handler(debug bool) http.Handler {
	var handler http.Handler = s.mux
	if debug {
		handler = httpmdlwr.Debug(s.mux, os.Stdout)(handler)
	}
	handler = appmw.Metrics(routeLabel)(handler)
	handler = httpmdlwr.Log(middleware.NewLogger(s.logger))(handler)
	handler = httpmdlwr.RequestID()(handler)
	return handler
}

// routeLabel keeps the metrics path label bounded.
func routeLabel(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/api/events/"):
		return "/api/events/{id}"
	case strings.HasPrefix(p, "/uploads/"):
		return "/uploads/{file}"
	}
	switch p {
	case "/api/auth/login", "/api/auth/status", "/api/events", "/api/known_faces",
		"/api/snapshot", "/stream", "/health", "/metrics", "/ws/events":
		return p
	}
	return "other"
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(ctx, w).Encode(v); err != nil {
		s.logger.Printf("[API] failed to encode response: %v", err)
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("[API] [%s] ERROR: %v", id, err)
	}
	s.writeJSON(ctx, w, status, ErrorResponse{Error: err.Error(), RequestID: id})
}

func (s *Server) decode(r *http.Request, v interface{}) error {
	return goahttp.RequestDecoder(r).Decode(v)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	name := s.mux.Vars(r)["file"]
	f, err := s.deps.Uploads.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HealthResponse reports each dependency check.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string)}
	status := http.StatusOK
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	s.writeJSON(r.Context(), w, status, resp)
}
