// Package session implements the Session Endpoint (spec §4.7): upgrades to
// a bidirectional frame channel, authorizes the (room, password, tempUser)
// triplet, and pumps inbound frames into state mutations while draining the
// hub's outbound sink back to the socket.
package session

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/hub"
	"github.com/n0remac/vo-sync/internal/room"
)

// upgrader permits any origin: the service is loopback-only (spec §9,
// "Session authentication").
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// inboundFrame is the shape of a text frame read from the client (spec §4.7).
type inboundFrame struct {
	Type  string      `json:"type"`
	State *room.State `json:"state,omitempty"`
}

// Handler serves GET /ws.
type Handler struct {
	manager *room.Manager
	hub     *hub.Hub
	log     zerolog.Logger
}

// NewHandler builds a session Handler.
func NewHandler(manager *room.Manager, h *hub.Hub, log zerolog.Logger) *Handler {
	return &Handler{manager: manager, hub: h, log: log}
}

// ServeHTTP implements spec §4.7 steps 1–4: parse, authorize, upgrade,
// register.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomName := q.Get("room")
	password := q.Get("password")
	tempUser := q.Get("tempUser")

	isHost, err := h.manager.Authorize(roomName, password, tempUser)
	if err != nil {
		appErr, _ := apperror.As(err)
		http.Error(w, appErr.Message, appErr.Kind.Status())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	sink := make(hub.Sink, 32)
	h.hub.Register(roomName, clientID, sink)

	sess := &liveSession{
		conn:     conn,
		sink:     sink,
		manager:  h.manager,
		hub:      h.hub,
		room:     roomName,
		tempUser: tempUser,
		clientID: clientID,
		isHost:   isHost,
		log:      h.log,
	}
	sess.sendInitialState()

	done := make(chan struct{})
	go sess.writePump(done)
	sess.readPump(done)

	h.hub.Unregister(roomName, clientID)
}

// liveSession is one connected session's context (spec §3, Session).
type liveSession struct {
	conn     *websocket.Conn
	sink     hub.Sink
	manager  *room.Manager
	hub      *hub.Hub
	room     string
	tempUser string
	clientID string
	isHost   bool
	log      zerolog.Logger
}

// sendInitialState implements spec §4.7 step 5: push current state, or a
// debug envelope if none has been published yet.
func (s *liveSession) sendInitialState() {
	if state, ok := s.manager.CurrentState(s.room); ok {
		payload, err := json.Marshal(hub.Envelope{Type: "room_state", State: &state})
		if err == nil {
			s.sink <- payload
		}
		return
	}
	payload, err := json.Marshal(hub.Envelope{Type: "debug_info", Message: "Connected! Waiting for host push..."})
	if err == nil {
		s.sink <- payload
	}
}

// writePump drains the hub sink to the socket until the sink closes or a
// write fails (spec §4.7 step 6, outbound pump).
func (s *liveSession) writePump(done chan struct{}) {
	defer s.conn.Close()
	for {
		select {
		case msg, ok := <-s.sink:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump implements spec §4.7 steps 6–7: read and dispatch inbound frames
// until the socket closes, then signal the write pump to stop.
func (s *liveSession) readPump(done chan struct{}) {
	defer close(done)
	defer s.conn.Close()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatch(data)
	}
}

// dispatch implements spec §4.7's inbound frame dispatch table.
func (s *liveSession) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError("invalid message")
		return
	}

	switch frame.Type {
	case "host_update":
		s.handleHostUpdate(frame)
	case "member_ping":
		s.manager.TouchMember(s.room, s.tempUser)
	default:
		s.sendError("unknown message type")
	}
}

func (s *liveSession) handleHostUpdate(frame inboundFrame) {
	if frame.State == nil {
		s.sendError("missing state")
		return
	}
	merged, err := s.manager.UpdateState(s.room, s.tempUser, *frame.State, s.isHost)
	if err != nil {
		appErr, _ := apperror.As(err)
		s.sendError(appErr.Message)
		return
	}
	s.hub.BroadcastState(s.room, merged)
}

func (s *liveSession) sendError(message string) {
	if err := s.hub.SendTo(s.room, s.clientID, hub.Envelope{Type: "error", Error: message}); err != nil {
		s.log.Debug().Err(err).Msg("could not deliver error envelope")
	}
}
