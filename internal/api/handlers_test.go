package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abroadhq/chat-server/internal/chat"
	"github.com/abroadhq/chat-server/internal/config"
	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/server"
	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/testutil"
	"github.com/abroadhq/chat-server/internal/types"
)

var testSigningKey = []byte("test-signing-key")

func newTestApp(t *testing.T, db *database.MockChatRepository) *ChatApp {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)

	cs, err := server.NewChatServer(logger, db, su, 0)
	require.NoError(t, err)

	svc := chat.NewService(logger, db, cs, chat.NewLogNotifier(logger), su, time.Minute)

	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
		PollInterval:   3 * time.Second,
		DedupWindow:    5 * time.Second,
	}

	return NewChatApp(http.NewServeMux(), logger, cs, svc, db, cfg)
}

func sessionCookie(t *testing.T, userId int) *http.Cookie {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSigningKey)
	require.NoError(t, err)

	return &http.Cookie{Name: tokenCookieKey, Value: signed}
}

func doRequest(app *ChatApp, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	app.mux.Handler.ServeHTTP(w, req)
	return w
}

func activeRoom() database.Room {
	return database.Room{
		Id:         7,
		ExternalId: "abc123",
		Name:       "advising",
		Type:       types.RoomTypeGroup,
		Status:     types.RoomStatusActive,
		CreatedBy:  1,
	}
}

func joinedMessage() database.Message {
	return database.Message{
		Id:             "c9c9a7de-0000-4000-8000-000000000001",
		RoomId:         7,
		RoomExternalId: "abc123",
		SenderId:       1,
		SenderUsername: "counselor",
		Content:        "hello",
		Type:           types.MessageTypeText,
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("missing cookie", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{})

		req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		w := doRequest(app, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{})

		req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-jwt"})
		w := doRequest(app, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{})

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			userIdClaim: 1,
			"exp":       time.Now().Add(-time.Hour).Unix(),
		})
		signed, err := token.SignedString(testSigningKey)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: signed})
		w := doRequest(app, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("ListRoomsForUser", 1).Return([]database.RoomSummary{}, nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSendMessageHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)
		db.On("CreateMessage", mock.Anything).Return(joinedMessage(), nil)
		db.On("ListStaleParticipants", 7, mock.Anything).Return([]database.Participant{}, nil).Maybe()

		app := newTestApp(t, db)

		body := `{"room_id":"abc123","content":"hello"}`
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var resp SendMessageResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "c9c9a7de-0000-4000-8000-000000000001", resp.Message.Id)
		assert.Equal(t, "abc123", resp.Message.RoomId)
	})

	t.Run("empty message", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"room_id":"abc123"}`))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("closed room conflicts", func(t *testing.T) {
		room := activeRoom()
		room.Status = types.RoomStatusClosed

		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(room, nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"room_id":"abc123","content":"hi"}`))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("non-participant forbidden", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 9).Return(database.Participant{}, sql.ErrNoRows)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"room_id":"abc123","content":"hi"}`))
		req.AddCookie(sessionCookie(t, 9))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "nowhere").Return(database.Room{}, sql.ErrNoRows)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"room_id":"nowhere","content":"hi"}`))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetMessagesHandler(t *testing.T) {
	t.Run("returns the room window", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)
		db.On("ListMessages", 7).Return([]database.Message{joinedMessage()}, nil)
		db.On("TouchLastRead", 7, 1).Return(nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodGet, "/api/messages?room_id=abc123", nil)
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)

		require.Equal(t, http.StatusOK, w.Code)

		var msgs []types.Message
		require.NoError(t, json.NewDecoder(w.Body).Decode(&msgs))
		require.Len(t, msgs, 1)
		assert.Equal(t, "counselor", msgs[0].Sender.Username)
	})

	t.Run("missing room id", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{})

		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetMessageHandler(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetMessage", "c9c9a7de-0000-4000-8000-000000000001").Return(joinedMessage(), nil)
	db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
	db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/c9c9a7de-0000-4000-8000-000000000001", nil)
	req.AddCookie(sessionCookie(t, 1))
	w := doRequest(app, req)

	require.Equal(t, http.StatusOK, w.Code)

	var msg types.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
	assert.Equal(t, "hello", msg.Content)
}

func TestEditMessageHandler(t *testing.T) {
	updated := joinedMessage()
	updated.Content = "edited"
	updated.IsEdited = true

	db := &database.MockChatRepository{}
	db.On("GetMessage", updated.Id).Return(joinedMessage(), nil)
	db.On("UpdateMessage", mock.Anything).Return(updated, nil)

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodPut, "/api/messages/"+updated.Id, strings.NewReader(`{"content":"edited"}`))
	req.AddCookie(sessionCookie(t, 1))
	w := doRequest(app, req)

	require.Equal(t, http.StatusOK, w.Code)

	var msg types.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
	assert.True(t, msg.IsEdited)
	assert.Equal(t, "edited", msg.Content)
}

func TestDeleteMessageHandler(t *testing.T) {
	deleted := joinedMessage()
	deleted.DeletedAt = sql.NullTime{Time: time.Now(), Valid: true}

	db := &database.MockChatRepository{}
	db.On("GetMessage", deleted.Id).Return(joinedMessage(), nil)
	db.On("SoftDeleteMessage", deleted.Id, 1).Return(deleted, nil)

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodDelete, "/api/messages/"+deleted.Id, nil)
	req.AddCookie(sessionCookie(t, 1))
	w := doRequest(app, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRoomHandlers(t *testing.T) {
	t.Run("create room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("CreateRoom", mock.Anything).Return(activeRoom(), nil)

		app := newTestApp(t, db)

		body := `{"name":"advising","participant_ids":[1,2]}`
		req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(body))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)

		require.Equal(t, http.StatusCreated, w.Code)

		var room types.Room
		require.NoError(t, json.NewDecoder(w.Body).Decode(&room))
		assert.Equal(t, "abc123", room.ExternalId)
	})

	t.Run("close room requires the creator", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodDelete, "/api/rooms?id=abc123", nil)
		req.AddCookie(sessionCookie(t, 2))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("get room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodGet, "/api/rooms?id=abc123", nil)
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestParticipantHandlers(t *testing.T) {
	t.Run("add participant", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)
		db.On("UpsertParticipant", 7, 2).Return(database.Participant{UserId: 2, IsActive: true}, nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/participants", strings.NewReader(`{"room_id":"abc123","user_id":2}`))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("leave room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 2).Return(database.Participant{UserId: 2, IsActive: true}, nil)
		db.On("DeactivateParticipant", 7, 2).Return(nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodDelete, "/api/participants?room_id=abc123", nil)
		req.AddCookie(sessionCookie(t, 2))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestReadHandlers(t *testing.T) {
	t.Run("mark read", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)
		db.On("TouchLastRead", 7, 1).Return(nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodPost, "/api/read", strings.NewReader(`{"room_id":"abc123"}`))
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unread count", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetRoomByExternalId", "abc123").Return(activeRoom(), nil)
		db.On("GetParticipant", 7, 1).Return(database.Participant{UserId: 1, IsActive: true}, nil)
		db.On("UnreadCount", 7, 1).Return(3, nil)

		app := newTestApp(t, db)

		req := httptest.NewRequest(http.MethodGet, "/api/unread?room_id=abc123", nil)
		req.AddCookie(sessionCookie(t, 1))
		w := doRequest(app, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp UnreadCountResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, "abc123", resp.RoomId)
	})
}

func TestGetClientConfig(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{})

	req := httptest.NewRequest(http.MethodGet, "/api/client-config", nil)
	req.AddCookie(sessionCookie(t, 1))
	w := doRequest(app, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ClientConfigResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(3000), resp.PollIntervalMs)
	assert.Equal(t, int64(5000), resp.DedupWindowMs)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(nil)

		app := newTestApp(t, db)

		w := doRequest(app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("database unreachable", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("Ping").Return(sql.ErrConnDone)

		app := newTestApp(t, db)

		w := doRequest(app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
