package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/vo-sync/internal/clock"
	"github.com/n0remac/vo-sync/internal/hub"
	"github.com/n0remac/vo-sync/internal/logging"
	"github.com/n0remac/vo-sync/internal/platform"
	"github.com/n0remac/vo-sync/internal/room"
	"github.com/n0remac/vo-sync/internal/token"
)

type noopResolver struct{}

func (noopResolver) Resolve(ctx context.Context, ref string) (platform.ResolvedMedia, error) {
	return platform.ResolvedMedia{}, nil
}

func newTestSession(t *testing.T) (*liveSession, *room.Manager, *hub.Hub, string) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	tokens := token.New(time.Hour, clk)
	manager := room.New(tokens, noopResolver{}, true, time.Hour, clk, logging.New("room-test"))
	bcast := hub.New(logging.New("hub-test"))

	hostUser, _, err := manager.JoinRoom("r", "p")
	require.NoError(t, err)

	sink := make(hub.Sink, 8)
	bcast.Register("r", "c1", sink)

	sess := &liveSession{
		sink:     sink,
		manager:  manager,
		hub:      bcast,
		room:     "r",
		tempUser: hostUser,
		clientID: "c1",
		isHost:   true,
		log:      logging.New("session-test"),
	}
	return sess, manager, bcast, hostUser
}

func TestSendInitialStateWithNoPublishedStateSendsDebugInfo(t *testing.T) {
	sess, _, _, _ := newTestSession(t)
	sess.sendInitialState()

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-sess.sink, &env))
	assert.Equal(t, "debug_info", env.Type)
}

func TestSendInitialStateWithPublishedStateSendsRoomState(t *testing.T) {
	sess, manager, _, hostUser := newTestSession(t)
	_, err := manager.UpdateState("r", hostUser, room.State{URL: "u"}, true)
	require.NoError(t, err)

	sess.sendInitialState()

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-sess.sink, &env))
	assert.Equal(t, "room_state", env.Type)
	assert.Equal(t, "u", env.State.URL)
}

func TestDispatchHostUpdateBroadcastsMergedState(t *testing.T) {
	sess, _, bcast, _ := newTestSession(t)
	other := make(hub.Sink, 8)
	bcast.Register("r", "c2", other)

	frame, err := json.Marshal(inboundFrame{Type: "host_update", State: &room.State{URL: "u", Title: "T"}})
	require.NoError(t, err)

	sess.dispatch(frame)

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-other, &env))
	assert.Equal(t, "room_state", env.Type)
	assert.Equal(t, "u", env.State.URL)
}

func TestDispatchHostUpdateMissingStateSendsError(t *testing.T) {
	sess, _, _, _ := newTestSession(t)
	frame, err := json.Marshal(inboundFrame{Type: "host_update"})
	require.NoError(t, err)

	sess.dispatch(frame)

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-sess.sink, &env))
	assert.Equal(t, "error", env.Type)
}

func TestDispatchUnknownTypeSendsError(t *testing.T) {
	sess, _, _, _ := newTestSession(t)
	frame, err := json.Marshal(inboundFrame{Type: "bogus"})
	require.NoError(t, err)

	sess.dispatch(frame)

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-sess.sink, &env))
	assert.Equal(t, "error", env.Type)
}

func TestDispatchInvalidJSONSendsError(t *testing.T) {
	sess, _, _, _ := newTestSession(t)
	sess.dispatch([]byte("not json"))

	var env hub.Envelope
	require.NoError(t, json.Unmarshal(<-sess.sink, &env))
	assert.Equal(t, "error", env.Type)
}

func TestDispatchMemberPingKeepsMemberAuthorized(t *testing.T) {
	sess, manager, _, hostUser := newTestSession(t)
	frame, err := json.Marshal(inboundFrame{Type: "member_ping"})
	require.NoError(t, err)

	sess.dispatch(frame)

	isHost, err := manager.Authorize("r", "p", hostUser)
	require.NoError(t, err)
	assert.True(t, isHost)
}
