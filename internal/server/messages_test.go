package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseHelpers(t *testing.T) {
	tests := []struct {
		name     string
		msg      *ServerMessage
		wantCode int
		wantErr  string
	}{
		{
			name:     "ok",
			msg:      NoErrOK(1, map[string]any{"room_id": "abc123"}),
			wantCode: http.StatusOK,
		},
		{
			name:     "room not found",
			msg:      ErrRoomNotFound(2),
			wantCode: http.StatusNotFound,
			wantErr:  "room not found",
		},
		{
			name:     "not a participant",
			msg:      ErrNotParticipant(3),
			wantCode: http.StatusForbidden,
			wantErr:  "not an active participant",
		},
		{
			name:     "internal error",
			msg:      ErrInternalError(4),
			wantCode: http.StatusInternalServerError,
			wantErr:  "internal server error",
		},
		{
			name:     "service unavailable",
			msg:      ErrServiceUnavailable(5),
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "service unavailable",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotNil(t, tc.msg.Response)
			assert.Equal(t, tc.wantCode, tc.msg.Response.ResponseCode)
			assert.Equal(t, tc.wantErr, tc.msg.Response.Error)
			assert.False(t, tc.msg.Timestamp.IsZero())
		})
	}
}

func TestErrInvalidMessageOmitsNonPositiveId(t *testing.T) {
	assert.Equal(t, 0, ErrInvalidMessage(-1).Id)
	assert.Equal(t, 9, ErrInvalidMessage(9).Id)
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "timestamps are millisecond precision")
}
