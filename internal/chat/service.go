package chat

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/abroadhq/chat-server/internal/database"
	"github.com/abroadhq/chat-server/internal/stats"
	"github.com/abroadhq/chat-server/internal/types"
)

// Broadcaster is the ephemeral, best-effort delivery path. Publishes must
// never block the caller beyond handing the payload off and must never
// report failure back to a send.
type Broadcaster interface {
	PublishMessage(roomId string, msg types.Message)
	PublishUpdate(roomId string, msg types.Message)
	PublishDelete(roomId, messageId string)
}

type Service struct {
	log             *log.Logger
	db              database.ChatRepository
	broadcaster     Broadcaster
	notifier        Notifier
	stats           stats.StatsProvider
	notifyThreshold time.Duration

	newMessageId func() string
	newRoomId    func() (string, error)
	// post-commit side effects are dispatched through runAsync so tests can
	// run them inline
	runAsync func(fn func())
}

func NewService(logger *log.Logger, db database.ChatRepository, b Broadcaster, n Notifier,
	sp stats.StatsProvider, notifyThreshold time.Duration) *Service {
	sp.RegisterMetric("MessagesSent")
	sp.RegisterMetric("MessagesFailed")
	sp.RegisterMetric("UnreadNotifications")

	return &Service{
		log:             logger,
		db:              db,
		broadcaster:     b,
		notifier:        n,
		stats:           sp,
		notifyThreshold: notifyThreshold,
		newMessageId:    uuid.NewString,
		newRoomId:       shortid.Generate,
		runAsync:        func(fn func()) { go fn() },
	}
}

type AttachmentParams struct {
	FileUrl      string
	FileName     string
	FileType     string
	FileSize     int64
	ThumbnailUrl string
}

type SendMessageParams struct {
	RoomId      string
	SenderId    int
	Content     string
	Type        string
	Attachments []AttachmentParams
}

// Send validates and atomically persists a new message with its attachments,
// advancing the sender's read cursor in the same transaction. Broadcast and
// unread notifications are dispatched after commit and never affect the
// result.
func (s *Service) Send(params SendMessageParams) (types.Message, error) {
	if params.Content == "" && len(params.Attachments) == 0 {
		return types.Message{}, ErrEmptyMessage
	}

	if params.Type == "" {
		params.Type = types.MessageTypeText
	}
	if !types.ValidMessageType(params.Type) {
		return types.Message{}, ErrInvalidMessageType
	}

	room, err := s.db.GetRoomByExternalId(params.RoomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrRoomNotFound
		}
		return types.Message{}, err
	}

	if room.Status == types.RoomStatusClosed {
		return types.Message{}, ErrRoomClosed
	}

	participant, err := s.db.GetParticipant(room.Id, params.SenderId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrNotParticipant
		}
		return types.Message{}, err
	}
	if !participant.IsActive {
		return types.Message{}, ErrNotParticipant
	}

	createParams := database.CreateMessageParams{
		Id:       s.newMessageId(),
		RoomId:   room.Id,
		SenderId: params.SenderId,
		Content:  params.Content,
		Type:     params.Type,
	}
	for _, att := range params.Attachments {
		createParams.Attachments = append(createParams.Attachments, database.CreateAttachmentParams{
			Id:           s.newMessageId(),
			FileUrl:      att.FileUrl,
			FileName:     att.FileName,
			FileType:     att.FileType,
			FileSize:     att.FileSize,
			ThumbnailUrl: att.ThumbnailUrl,
		})
	}

	dbMsg, err := s.db.CreateMessage(createParams)
	if err != nil {
		s.stats.Incr("MessagesFailed")
		return types.Message{}, &PersistenceError{Err: err}
	}

	s.stats.Incr("MessagesSent")
	msg := toMessage(dbMsg)

	// fire-and-forget: the database write is the source of truth, delivery
	// failures self-heal through the change feed and polling
	s.broadcaster.PublishMessage(msg.RoomId, msg)
	s.runAsync(func() { s.notifyStaleReaders(room, msg) })

	return msg, nil
}

// EditMessage updates a message's content in place. Only the original sender
// may edit; soft-deleted messages cannot be edited.
func (s *Service) EditMessage(messageId string, senderId int, content string) (types.Message, error) {
	if content == "" {
		return types.Message{}, ErrEmptyMessage
	}

	current, err := s.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrMessageNotFound
		}
		return types.Message{}, err
	}
	if current.SenderId != senderId {
		return types.Message{}, ErrNotSender
	}
	if current.DeletedAt.Valid {
		return types.Message{}, ErrMessageNotFound
	}

	dbMsg, err := s.db.UpdateMessage(database.UpdateMessageParams{
		Id:       messageId,
		SenderId: senderId,
		Content:  content,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrMessageNotFound
		}
		return types.Message{}, &PersistenceError{Err: err}
	}

	msg := toMessage(dbMsg)
	s.broadcaster.PublishUpdate(msg.RoomId, msg)

	return msg, nil
}

// DeleteMessage soft-deletes a message: the row is kept with placeholder
// content and a deleted_at stamp.
func (s *Service) DeleteMessage(messageId string, senderId int) error {
	current, err := s.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return err
	}
	if current.SenderId != senderId {
		return ErrNotSender
	}
	if current.DeletedAt.Valid {
		return ErrMessageNotFound
	}

	dbMsg, err := s.db.SoftDeleteMessage(messageId, senderId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return &PersistenceError{Err: err}
	}

	s.broadcaster.PublishDelete(dbMsg.RoomExternalId, dbMsg.Id)

	return nil
}

// ListMessages returns the room's visible messages in created_at order,
// joined with sender profile and attachments. A successful fetch counts as
// the caller having read the room, so the read cursor is advanced.
func (s *Service) ListMessages(roomId string, userId int) ([]types.Message, error) {
	room, _, err := s.activeParticipant(roomId, userId)
	if err != nil {
		return nil, err
	}

	dbMsgs, err := s.db.ListMessages(room.Id)
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		messages = append(messages, toMessage(m))
	}

	// best-effort cursor touch; never fails the read
	if err := s.db.TouchLastRead(room.Id, userId); err != nil {
		s.log.Printf("touch last read for user %d in room %q: %v", userId, roomId, err)
	}

	return messages, nil
}

// GetMessage returns the fully joined message. Used by change-feed
// consumers which receive only a row id and must not render a partial shape.
// Only active participants of the message's room may fetch it.
func (s *Service) GetMessage(messageId string, userId int) (types.Message, error) {
	dbMsg, err := s.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrMessageNotFound
		}
		return types.Message{}, err
	}

	if _, _, err := s.activeParticipant(dbMsg.RoomExternalId, userId); err != nil {
		return types.Message{}, err
	}

	return toMessage(dbMsg), nil
}

func (s *Service) MarkRead(roomId string, userId int) error {
	room, _, err := s.activeParticipant(roomId, userId)
	if err != nil {
		return err
	}

	return s.db.TouchLastRead(room.Id, userId)
}

func (s *Service) UnreadCount(roomId string, userId int) (int, error) {
	room, _, err := s.activeParticipant(roomId, userId)
	if err != nil {
		return 0, err
	}

	return s.db.UnreadCount(room.Id, userId)
}

type CreateRoomParams struct {
	Name           string
	Type           string
	CreatedBy      int
	ParticipantIds []int
}

func (s *Service) CreateRoom(params CreateRoomParams) (types.Room, error) {
	if params.Type == "" {
		params.Type = types.RoomTypeGroup
	}
	if params.Type != types.RoomTypeDirect && params.Type != types.RoomTypeGroup {
		return types.Room{}, ErrInvalidRoomType
	}

	externalId, err := s.newRoomId()
	if err != nil {
		return types.Room{}, err
	}

	dbRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		ExternalId:     externalId,
		Name:           params.Name,
		Type:           params.Type,
		CreatedBy:      params.CreatedBy,
		ParticipantIds: params.ParticipantIds,
	})
	if err != nil {
		return types.Room{}, &PersistenceError{Err: err}
	}

	return toRoom(dbRoom), nil
}

func (s *Service) GetRoom(roomId string) (types.Room, error) {
	dbRoom, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Room{}, ErrRoomNotFound
		}
		return types.Room{}, err
	}

	return toRoom(dbRoom), nil
}

// CloseRoom marks the room CLOSED. A closed room accepts no new messages
// but its history stays readable.
func (s *Service) CloseRoom(roomId string, userId int) error {
	dbRoom, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return err
	}
	if dbRoom.CreatedBy != userId {
		return ErrNotRoomOwner
	}

	return s.db.CloseRoom(dbRoom.Id)
}

// AddParticipant adds or reactivates a (room, user) membership. The pair is
// never duplicated: a rejoin toggles is_active on the existing row.
func (s *Service) AddParticipant(roomId string, actorId, userId int) (types.Participant, error) {
	room, _, err := s.activeParticipant(roomId, actorId)
	if err != nil {
		return types.Participant{}, err
	}
	if room.Status == types.RoomStatusClosed {
		return types.Participant{}, ErrRoomClosed
	}

	p, err := s.db.UpsertParticipant(room.Id, userId)
	if err != nil {
		return types.Participant{}, &PersistenceError{Err: err}
	}

	return toParticipant(p), nil
}

// RemoveParticipant deactivates a membership. Participants may remove
// themselves; removing anyone else is reserved for the room's creator.
func (s *Service) RemoveParticipant(roomId string, actorId, userId int) error {
	room, _, err := s.activeParticipant(roomId, actorId)
	if err != nil {
		return err
	}
	if actorId != userId && room.CreatedBy != actorId {
		return ErrNotRoomOwner
	}

	return s.db.DeactivateParticipant(room.Id, userId)
}

// ListRooms returns the caller's active rooms with unread badges.
func (s *Service) ListRooms(userId int) ([]types.RoomSummary, error) {
	dbSummaries, err := s.db.ListRoomsForUser(userId)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.RoomSummary, 0, len(dbSummaries))
	for _, s := range dbSummaries {
		summaries = append(summaries, types.RoomSummary{
			Room:        toRoom(s.Room),
			UnreadCount: s.UnreadCount,
		})
	}

	return summaries, nil
}

// activeParticipant resolves the room and verifies the user is an active
// member of it.
func (s *Service) activeParticipant(roomId string, userId int) (database.Room, database.Participant, error) {
	room, err := s.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Room{}, database.Participant{}, ErrRoomNotFound
		}
		return database.Room{}, database.Participant{}, err
	}

	participant, err := s.db.GetParticipant(room.Id, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Room{}, database.Participant{}, ErrNotParticipant
		}
		return database.Room{}, database.Participant{}, err
	}
	if !participant.IsActive {
		return database.Room{}, database.Participant{}, ErrNotParticipant
	}

	return room, participant, nil
}

// notifyStaleReaders fires a notification for every active participant
// whose read cursor is older than the configured threshold. Runs after
// commit; every failure is logged and swallowed.
func (s *Service) notifyStaleReaders(room database.Room, msg types.Message) {
	cutoff := time.Now().UTC().Add(-s.notifyThreshold)
	participants, err := s.db.ListStaleParticipants(room.Id, cutoff)
	if err != nil {
		s.log.Printf("list stale participants for room %q: %v", room.ExternalId, err)
		return
	}

	roomInfo := toRoom(room)
	for _, p := range participants {
		if p.UserId == msg.SenderId {
			continue
		}
		if err := s.notifier.NotifyUnread(p.UserId, roomInfo, msg); err != nil {
			s.log.Printf("notify user %d for room %q: %v", p.UserId, room.ExternalId, err)
			continue
		}
		s.stats.Incr("UnreadNotifications")
	}
}

func toMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:       m.Id,
		RoomId:   m.RoomExternalId,
		SenderId: m.SenderId,
		Sender: types.User{
			Id:        m.SenderId,
			Username:  m.SenderUsername,
			AvatarUrl: m.SenderAvatarUrl,
		},
		Content:   m.Content,
		Type:      m.Type,
		IsEdited:  m.IsEdited,
		Deleted:   m.DeletedAt.Valid,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, types.Attachment{
			Id:           att.Id,
			FileUrl:      att.FileUrl,
			FileName:     att.FileName,
			FileType:     att.FileType,
			FileSize:     att.FileSize,
			ThumbnailUrl: att.ThumbnailUrl,
		})
	}

	return msg
}

func toRoom(r database.Room) types.Room {
	room := types.Room{
		Id:         r.Id,
		ExternalId: r.ExternalId,
		Name:       r.Name,
		Type:       r.Type,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}

	for _, p := range r.Participants {
		room.Participants = append(room.Participants, toParticipant(p))
	}

	return room
}

func toParticipant(p database.Participant) types.Participant {
	participant := types.Participant{
		UserId:   p.UserId,
		Username: p.Username,
		IsActive: p.IsActive,
	}
	if p.LastReadAt.Valid {
		t := p.LastReadAt.Time
		participant.LastReadAt = &t
	}
	return participant
}
