package database

import (
	"database/sql"
	"time"
)

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	AvatarUrl    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id           int
	ExternalId   string
	Name         string
	Type         string
	Status       string
	CreatedBy    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    sql.NullTime
	Participants []Participant
}

type Participant struct {
	Id         int
	RoomId     int
	UserId     int
	Username   string
	IsActive   bool
	LastReadAt sql.NullTime
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Message is the joined row shape: sender profile columns and attachments
// are always populated by the queries returning it.
type Message struct {
	Id              string
	RoomId          int
	RoomExternalId  string
	SenderId        int
	SenderUsername  string
	SenderAvatarUrl string
	Content         string
	Type            string
	IsEdited        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       sql.NullTime
	Attachments     []Attachment
}

type Attachment struct {
	Id           string
	MessageId    string
	FileUrl      string
	FileName     string
	FileType     string
	FileSize     int64
	ThumbnailUrl string
	CreatedAt    time.Time
}

type RoomSummary struct {
	Room        Room
	UnreadCount int
}

type CreateRoomParams struct {
	ExternalId     string
	Name           string
	Type           string
	CreatedBy      int
	ParticipantIds []int
}

type CreateAttachmentParams struct {
	Id           string
	FileUrl      string
	FileName     string
	FileType     string
	FileSize     int64
	ThumbnailUrl string
}

type CreateMessageParams struct {
	Id          string
	RoomId      int
	SenderId    int
	Content     string
	Type        string
	Attachments []CreateAttachmentParams
}

type UpdateMessageParams struct {
	Id       string
	SenderId int
	Content  string
}
