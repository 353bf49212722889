package types

import (
	"time"
)

const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeFile  = "FILE"
	MessageTypeLink  = "LINK"

	RoomTypeDirect = "DIRECT"
	RoomTypeGroup  = "GROUP"

	RoomStatusActive = "ACTIVE"
	RoomStatusClosed = "CLOSED"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id           int           `json:"-"`
	ExternalId   string        `json:"id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	Participants []Participant `json:"participants,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

type Participant struct {
	UserId     int        `json:"user_id"`
	Username   string     `json:"username"`
	IsActive   bool       `json:"is_active"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

// RoomSummary is a room list entry with the caller's unread badge.
type RoomSummary struct {
	Room        Room `json:"room"`
	UnreadCount int  `json:"unread_count"`
}

type Attachment struct {
	Id           string `json:"id"`
	FileUrl      string `json:"file_url"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	ThumbnailUrl string `json:"thumbnail_url,omitempty"`
}

// Message is the fully joined, display-ready shape every delivery path
// converges on. RoomId holds the room's external id.
type Message struct {
	Id          string       `json:"id"`
	RoomId      string       `json:"room_id"`
	SenderId    int          `json:"sender_id"`
	Sender      User         `json:"sender"`
	Content     string       `json:"content"`
	Type        string       `json:"type"`
	IsEdited    bool         `json:"is_edited"`
	Deleted     bool         `json:"deleted,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// FeedEvent is a row-level change notification for the messages table.
// Insert events are intentionally skinny: consumers must refetch the joined
// message by id before rendering. Update events carry the changed columns so
// consumers can patch in place without a refetch.
type FeedEvent struct {
	Op        string     `json:"op"` // insert, update or delete
	MessageId string     `json:"id"`
	RoomId    string     `json:"room_id"`
	Content   *string    `json:"content,omitempty"`
	IsEdited  *bool      `json:"is_edited,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

const (
	FeedOpInsert = "insert"
	FeedOpUpdate = "update"
	FeedOpDelete = "delete"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeLink:
		return true
	}
	return false
}
