package database

import "time"

type ChatRepository interface {
	Ping() error
	GetAccountById(accountId int) (Account, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	CloseRoom(roomId int) error
	UpsertParticipant(roomId, userId int) (Participant, error)
	DeactivateParticipant(roomId, userId int) error
	GetParticipant(roomId, userId int) (Participant, error)
	ListRoomsForUser(userId int) ([]RoomSummary, error)
	// CreateMessage persists the message, its attachments and the sender's
	// read cursor in a single transaction. The returned message is fully
	// joined.
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(id string) (Message, error)
	ListMessages(roomId int) ([]Message, error)
	UpdateMessage(params UpdateMessageParams) (Message, error)
	SoftDeleteMessage(id string, senderId int) (Message, error)
	TouchLastRead(roomId, userId int) error
	UnreadCount(roomId, userId int) (int, error)
	// ListStaleParticipants returns active participants whose read cursor
	// is unset or older than cutoff.
	ListStaleParticipants(roomId int, cutoff time.Time) ([]Participant, error)
}
