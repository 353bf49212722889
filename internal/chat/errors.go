package chat

import (
	"errors"
	"fmt"
)

// Authorization, state and validation failures are checked before any write
// and leave no partial state. Persistence failures are surfaced wrapped so
// callers can tell a rolled-back transaction from a rejected request.
var (
	ErrNotParticipant     = errors.New("sender is not an active participant of the room")
	ErrRoomClosed         = errors.New("room is closed")
	ErrRoomNotFound       = errors.New("room not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrEmptyMessage       = errors.New("message must have content or attachments")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidRoomType    = errors.New("invalid room type")
	ErrNotSender          = errors.New("only the original sender may modify a message")
	ErrNotRoomOwner       = errors.New("only the room creator may close a room")
)

// PersistenceError wraps a transaction failure. The write was rolled back
// entirely; the caller may safely retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
