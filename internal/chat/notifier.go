package chat

import (
	"log"

	"github.com/abroadhq/chat-server/internal/types"
)

// Notifier delivers best-effort unread notifications to participants who
// have not read the room recently. Implementations talk to the external
// notification sender; failures must be returned, never panicked, and are
// always swallowed by the caller.
type Notifier interface {
	NotifyUnread(userId int, room types.Room, msg types.Message) error
}

// LogNotifier records notifications on the server log. It stands in for the
// external email sender in development and tests.
type LogNotifier struct {
	log *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) NotifyUnread(userId int, room types.Room, msg types.Message) error {
	n.log.Printf("unread notification for user %d: new message %s in room %q", userId, msg.Id, room.ExternalId)
	return nil
}
