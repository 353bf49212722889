package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/testutil"
	"github.com/abroadhq/chat-server/internal/types"
)

func newTestClient(t *testing.T, cs *ChatServer) *Client {
	return NewClient(types.User{Id: 1, Username: "counselor"}, nil, cs, testutil.TestLogger(t))
}

func TestClientQueueMessage(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	c := newTestClient(t, cs)

	assert.True(t, c.queueMessage(NoErrOK(1, nil)))
	assert.Len(t, c.send, 1)

	for i := 0; i < cap(c.send); i++ {
		c.queueMessage(NoErrOK(i, nil))
	}
	assert.False(t, c.queueMessage(NoErrOK(0, nil)), "a full send channel must not block")
}

func TestClientStopIsIdempotent(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	c := newTestClient(t, cs)

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Fatal("expected stop channel closed")
	}
}

func TestClientRoomTracking(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	c := newTestClient(t, cs)

	r := newRoom(cs, 7, "abc123")
	c.addRoom(r)
	assert.Equal(t, r, c.getRoom("abc123"))

	c.delRoom("abc123")
	assert.Nil(t, c.getRoom("abc123"))
}

func TestClientLeaveRoomUnknownRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{}, 0)
	c := newTestClient(t, cs)

	c.leaveRoom(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Leave:       &Leave{RoomId: "nowhere"},
	})

	select {
	case resp := <-c.send:
		assert.Equal(t, 404, resp.Response.ResponseCode)
	default:
		t.Fatal("expected room not found response")
	}
}
