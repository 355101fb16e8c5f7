// Package hub implements the Broadcast Hub (spec §4.5): per-room fan-out of
// state updates to connected sessions' outbound sinks, with send-failure
// sinks evicted on the spot.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/room"
)

// Envelope is the outbound message shape (spec §4.7): absent fields are
// omitted from the wire encoding.
type Envelope struct {
	Type    string      `json:"type"`
	State   *room.State `json:"state,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Sink is the per-client outbound channel the session's write pump drains.
type Sink chan []byte

// Hub is the process-wide registry of per-room client sinks. The zero value
// is not usable; use New.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]Sink
	log   zerolog.Logger
}

// New builds an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Sink),
		log:   log,
	}
}

// Register attaches sink under room/clientId (spec §4.5).
func (h *Hub) Register(roomName, clientID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.rooms[roomName]
	if !ok {
		bucket = make(map[string]Sink)
		h.rooms[roomName] = bucket
	}
	bucket[clientID] = sink
}

// Unregister removes clientId from room, dropping the room bucket if it
// becomes empty.
func (h *Hub) Unregister(roomName, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.rooms[roomName]
	if !ok {
		return
	}
	delete(bucket, clientID)
	if len(bucket) == 0 {
		delete(h.rooms, roomName)
	}
}

// BroadcastState serializes state once and sends it to every sink in room,
// dropping any sink whose send does not succeed immediately (spec §4.5 and
// §5: broadcasts hold the hub lock for the full enumeration, which is safe
// because sends are non-blocking).
func (h *Hub) BroadcastState(roomName string, state room.State) {
	payload, err := json.Marshal(Envelope{Type: "room_state", State: &state})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal room_state envelope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.rooms[roomName]
	if !ok {
		return
	}
	for clientID, sink := range bucket {
		select {
		case sink <- payload:
		default:
			h.log.Warn().Str("room", roomName).Str("clientId", clientID).Msg("dropping unresponsive sink")
			delete(bucket, clientID)
		}
	}
}

// SendTo delivers msg to exactly one client, erroring not_found if the
// client is absent from the room.
func (h *Hub) SendTo(roomName, clientID string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return apperror.NewBadRequest("failed to marshal envelope: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.rooms[roomName]
	if !ok {
		return apperror.NewNotFound("room not found")
	}
	sink, ok := bucket[clientID]
	if !ok {
		return apperror.NewNotFound("client not found")
	}

	select {
	case sink <- payload:
		return nil
	default:
		delete(bucket, clientID)
		return apperror.NewNotFound("client not reachable")
	}
}
