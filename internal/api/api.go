// Package api implements the HTTP Surface (spec §4.6): routing, JSON
// request/response handling, CORS, and health, wired over chi the way
// ManuGH-xg2g wires its v3 API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/hub"
	"github.com/n0remac/vo-sync/internal/mediaref"
	"github.com/n0remac/vo-sync/internal/room"
	"github.com/n0remac/vo-sync/internal/session"
	"github.com/n0remac/vo-sync/internal/stream"
)

// maxInt64 is the saturation ceiling for expiresAt, per spec §4.6.
const maxInt64 = int64(1<<63 - 1)

// Server wires the room manager, hub, session, and streaming handlers into
// one chi.Router.
type Server struct {
	manager *room.Manager
	hub     *hub.Hub
	log     zerolog.Logger
}

// New builds the HTTP Surface. The stream and session handlers are passed
// to Router instead, since they serve their own routes end-to-end.
func New(manager *room.Manager, h *hub.Hub, log zerolog.Logger) *Server {
	return &Server{manager: manager, hub: h, log: log}
}

// Router builds the full route table (spec §4.6).
func (s *Server) Router(sessionHandler *session.Handler, streamHandler *stream.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/api/room/join", s.handleJoinRoom)
	r.Post("/api/media/resolve", s.handleResolveMedia)
	r.Post("/api/media/root", s.handleSetMediaRoot)
	r.Get("/api/media/root", s.handleGetMediaRoot)
	r.Get("/media/{token}", streamHandler.ServeHTTP)
	r.Get("/ws", sessionHandler.ServeHTTP)

	return r
}

// cors is a permissive `*` CORS middleware (spec §4.6): no community
// middleware for this appears anywhere in the retrieved pack, so a
// three-header handler does not justify a new dependency.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

type joinRequest struct {
	Room     string `json:"room"`
	Password string `json:"password"`
}

type joinResponse struct {
	TempUser string `json:"tempUser"`
	Role     string `json:"role"`
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tempUser, isHost, err := s.manager.JoinRoom(req.Room, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	role := "member"
	if isHost {
		role = "host"
	}
	writeJSON(w, http.StatusOK, joinResponse{TempUser: tempUser, Role: role})
}

type resolveRequest struct {
	Room     string `json:"room"`
	Password string `json:"password"`
	TempUser string `json:"tempUser"`
	Path     string `json:"path"`
}

type resolveResponse struct {
	Token      string  `json:"token"`
	URL        string  `json:"url"`
	ExpiresAt  int64   `json:"expiresAt"`
	SourceType string  `json:"sourceType"`
	Cover      *string `json:"cover,omitempty"`
}

// handleResolveMedia implements spec §4.6's /api/media/resolve, including
// its side effect: publishing an initial RoomState and broadcasting it.
func (s *Server) handleResolveMedia(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resolved, err := s.manager.ResolveMediaPath(r.Context(), req.Room, req.Password, req.TempUser, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	initial := room.State{
		URL:          resolved.URL,
		Title:        mediaref.Basename(req.Path),
		CurrentTime:  0,
		Paused:       true,
		PlaybackRate: 1,
		SourceType:   resolved.SourceType,
	}
	if resolved.Cover != "" {
		cover := resolved.Cover
		initial.Cover = &cover
	}
	// Resolution always sets the authoritative source, whether the caller
	// is the host or a member operating under allowMemberControl.
	published, err := s.manager.UpdateState(req.Room, req.TempUser, initial, true)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.BroadcastState(req.Room, published)

	resp := resolveResponse{
		Token:      resolved.Token,
		URL:        resolved.URL,
		ExpiresAt:  saturatingMillis(resolved.ExpiresAt),
		SourceType: resolved.SourceType,
	}
	if resolved.Cover != "" {
		cover := resolved.Cover
		resp.Cover = &cover
	}
	writeJSON(w, http.StatusOK, resp)
}

type mediaRootRequest struct {
	Path string `json:"path"`
}

type mediaRootResponse struct {
	MediaRoot string `json:"mediaRoot"`
}

func (s *Server) handleSetMediaRoot(w http.ResponseWriter, r *http.Request) {
	var req mediaRootRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	canonical, err := s.manager.SetMediaRoot(req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mediaRootResponse{MediaRoot: canonical})
}

func (s *Server) handleGetMediaRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mediaRootResponse{MediaRoot: s.manager.MediaRoot()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperror.NewBadRequest("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, appErr.Kind.Status(), map[string]string{"error": appErr.Message})
}

// saturatingMillis converts t to Unix milliseconds, saturating to the
// maximum signed 64-bit integer on overflow (spec §4.6).
func saturatingMillis(t time.Time) int64 {
	const maxSeconds = maxInt64 / 1000
	if t.Unix() > maxSeconds {
		return maxInt64
	}
	return t.UnixMilli()
}
