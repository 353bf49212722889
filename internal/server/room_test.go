package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/testutil"
	"github.com/abroadhq/chat-server/internal/types"
)

func newTestRoom(t *testing.T, cs *ChatServer) *Room {
	r := newRoom(cs, 7, "abc123")
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()
	return r
}

func TestRoomAddRemoveClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	r := newTestRoom(t, cs)

	c := NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))

	r.addClient(c)
	assert.Contains(t, r.clients, c)
	assert.Contains(t, r.userMap, 1)
	assert.Equal(t, r, c.getRoom("abc123"), "client should track the room")

	r.removeClient(c)
	assert.NotContains(t, r.clients, c)
	assert.NotContains(t, r.userMap, 1)
	assert.Nil(t, c.getRoom("abc123"))
}

func TestRoomRemoveUnknownClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	r := newTestRoom(t, cs)

	c := NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))
	// must not panic or disturb state
	r.removeClient(c)
	assert.Empty(t, r.clients)
}

func TestRoomBroadcast(t *testing.T) {
	t.Run("delivers to every client", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
		r := newTestRoom(t, cs)

		c1 := NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))
		c2 := NewClient(types.User{Id: 2, Username: "student"}, nil, cs, testutil.TestLogger(t))
		r.addClient(c1)
		r.addClient(c2)

		msg := &ServerMessage{Message: &MessageEvent{Op: MessageOpInsert, RoomId: "abc123"}}
		r.broadcast(msg)

		assert.Len(t, c1.send, 1)
		assert.Len(t, c2.send, 1)
	})

	t.Run("skips the excluded client", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
		r := newTestRoom(t, cs)

		c1 := NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))
		c2 := NewClient(types.User{Id: 2, Username: "student"}, nil, cs, testutil.TestLogger(t))
		r.addClient(c1)
		r.addClient(c2)

		msg := &ServerMessage{
			Message:    &MessageEvent{Op: MessageOpInsert, RoomId: "abc123"},
			SkipClient: c1,
		}
		r.broadcast(msg)

		assert.Empty(t, c1.send)
		assert.Len(t, c2.send, 1)
	})
}

func TestRoomKillTimerStartsWhenEmpty(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	r := newTestRoom(t, cs)

	c := NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))
	r.addClient(c)
	r.removeClient(c)

	// Reset returns false when the timer was stopped, meaning removeClient
	// armed it
	assert.True(t, r.killTimer.Stop(), "expected the kill timer armed after the last client left")
}

func TestGetUserId(t *testing.T) {
	var nilMsg *ClientMessage
	assert.Equal(t, 0, nilMsg.GetUserId())

	msg := &ClientMessage{UserId: 3}
	assert.Equal(t, 3, msg.GetUserId())
}
