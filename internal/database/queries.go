package database

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

// DeletedMessagePlaceholder replaces the content of a soft-deleted message.
// The row is kept for the audit trail.
const DeletedMessagePlaceholder = "This message has been deleted"

func (db *PgChatRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar_url, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.AvatarUrl,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO rooms (external_id, name, type, status, created_by, created_at, updated_at) "+
			"VALUES ($1, $2, $3, 'ACTIVE', $4, $5, $5) "+
			"RETURNING id, external_id, name, type, status, created_by, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.Type,
		params.CreatedBy,
		now,
	)

	var room Room
	if err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Type,
		&room.Status,
		&room.CreatedBy,
		&room.CreatedAt,
		&room.UpdatedAt,
	); err != nil {
		return Room{}, err
	}

	memberIds := params.ParticipantIds
	if !slices.Contains(memberIds, params.CreatedBy) {
		memberIds = append(memberIds, params.CreatedBy)
	}

	for _, userId := range memberIds {
		if _, err := tx.Exec(
			"INSERT INTO participants (room_id, user_id, is_active, created_at, updated_at) "+
				"VALUES ($1, $2, TRUE, $3, $3) "+
				"ON CONFLICT (room_id, user_id) DO UPDATE SET is_active = TRUE, updated_at = $3",
			room.Id,
			userId,
			now,
		); err != nil {
			return Room{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Room{}, err
	}

	return db.GetRoomByExternalId(room.ExternalId)
}

func (db *PgChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, type, status, created_by, created_at, updated_at, deleted_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Type,
		&room.Status,
		&room.CreatedBy,
		&room.CreatedAt,
		&room.UpdatedAt,
		&room.DeletedAt,
	)
	if err != nil {
		return Room{}, err
	}

	rows, err := db.conn.Query(
		"SELECT p.id, p.room_id, p.user_id, a.username, p.is_active, p.last_read_at, p.created_at, p.updated_at "+
			"FROM participants p JOIN accounts a ON a.id = p.user_id "+
			"WHERE p.room_id = $1 ORDER BY p.id",
		room.Id,
	)
	if err != nil {
		return Room{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		if err := rows.Scan(
			&p.Id,
			&p.RoomId,
			&p.UserId,
			&p.Username,
			&p.IsActive,
			&p.LastReadAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return Room{}, err
		}
		room.Participants = append(room.Participants, p)
	}

	return room, rows.Err()
}

func (db *PgChatRepository) CloseRoom(roomId int) error {
	res, err := db.conn.Exec(
		"UPDATE rooms SET status = 'CLOSED', updated_at = $2 WHERE id = $1",
		roomId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgChatRepository) UpsertParticipant(roomId, userId int) (Participant, error) {
	_, err := db.conn.Exec(
		"INSERT INTO participants (room_id, user_id, is_active, created_at, updated_at) "+
			"VALUES ($1, $2, TRUE, $3, $3) "+
			"ON CONFLICT (room_id, user_id) DO UPDATE SET is_active = TRUE, updated_at = $3",
		roomId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		return Participant{}, err
	}

	return db.GetParticipant(roomId, userId)
}

func (db *PgChatRepository) DeactivateParticipant(roomId, userId int) error {
	res, err := db.conn.Exec(
		"UPDATE participants SET is_active = FALSE, updated_at = $3 WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgChatRepository) GetParticipant(roomId, userId int) (Participant, error) {
	row := db.conn.QueryRow(
		"SELECT p.id, p.room_id, p.user_id, a.username, p.is_active, p.last_read_at, p.created_at, p.updated_at "+
			"FROM participants p JOIN accounts a ON a.id = p.user_id "+
			"WHERE p.room_id = $1 AND p.user_id = $2 LIMIT 1",
		roomId,
		userId,
	)

	var p Participant
	err := row.Scan(
		&p.Id,
		&p.RoomId,
		&p.UserId,
		&p.Username,
		&p.IsActive,
		&p.LastReadAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	return p, err
}

func (db *PgChatRepository) ListRoomsForUser(userId int) ([]RoomSummary, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, r.name, r.type, r.status, r.created_by, r.created_at, r.updated_at, "+
			"(SELECT COUNT(*) FROM messages m WHERE m.room_id = r.id AND m.sender_id <> $1 AND m.deleted_at IS NULL "+
			"AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread "+
			"FROM rooms r JOIN participants p ON p.room_id = r.id "+
			"WHERE p.user_id = $1 AND p.is_active AND r.deleted_at IS NULL "+
			"ORDER BY r.updated_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var s RoomSummary
		if err := rows.Scan(
			&s.Room.Id,
			&s.Room.ExternalId,
			&s.Room.Name,
			&s.Room.Type,
			&s.Room.Status,
			&s.Room.CreatedBy,
			&s.Room.CreatedAt,
			&s.Room.UpdatedAt,
			&s.UnreadCount,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// CreateMessage inserts the message row, all attachment rows and advances
// the sender's read cursor in one transaction. Any failure rolls the whole
// write back, leaving no orphan rows.
func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.Exec(
		"INSERT INTO messages (id, room_id, sender_id, content, type, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6)",
		params.Id,
		params.RoomId,
		params.SenderId,
		params.Content,
		params.Type,
		now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	for _, att := range params.Attachments {
		if _, err := tx.Exec(
			"INSERT INTO attachments (id, message_id, file_url, file_name, file_type, file_size, thumbnail_url, created_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			att.Id,
			params.Id,
			att.FileUrl,
			att.FileName,
			att.FileType,
			att.FileSize,
			att.ThumbnailUrl,
			now,
		); err != nil {
			return Message{}, fmt.Errorf("insert attachment: %w", err)
		}
	}

	// the sender has implicitly read their own message
	if _, err := tx.Exec(
		"UPDATE participants SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $3), updated_at = $3 "+
			"WHERE room_id = $1 AND user_id = $2",
		params.RoomId,
		params.SenderId,
		now,
	); err != nil {
		return Message{}, fmt.Errorf("advance read cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	return db.GetMessage(params.Id)
}

const messageSelect = "SELECT m.id, m.room_id, r.external_id, m.sender_id, a.username, a.avatar_url, " +
	"m.content, m.type, m.is_edited, m.created_at, m.updated_at, m.deleted_at " +
	"FROM messages m " +
	"JOIN rooms r ON r.id = m.room_id " +
	"JOIN accounts a ON a.id = m.sender_id "

func scanMessage(row *sql.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.RoomExternalId,
		&m.SenderId,
		&m.SenderUsername,
		&m.SenderAvatarUrl,
		&m.Content,
		&m.Type,
		&m.IsEdited,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
	)
	return m, err
}

func (db *PgChatRepository) GetMessage(id string) (Message, error) {
	msg, err := scanMessage(db.conn.QueryRow(messageSelect+"WHERE m.id = $1 LIMIT 1", id))
	if err != nil {
		return Message{}, err
	}

	atts, err := db.listAttachments([]string{msg.Id})
	if err != nil {
		return Message{}, err
	}
	msg.Attachments = atts[msg.Id]

	return msg, nil
}

func (db *PgChatRepository) ListMessages(roomId int) ([]Message, error) {
	rows, err := db.conn.Query(
		messageSelect+"WHERE m.room_id = $1 AND m.deleted_at IS NULL ORDER BY m.created_at ASC, m.id ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	var ids []string
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.RoomId,
			&m.RoomExternalId,
			&m.SenderId,
			&m.SenderUsername,
			&m.SenderAvatarUrl,
			&m.Content,
			&m.Type,
			&m.IsEdited,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.DeletedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
		ids = append(ids, m.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	atts, err := db.listAttachments(ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Attachments = atts[messages[i].Id]
	}

	return messages, nil
}

func (db *PgChatRepository) listAttachments(messageIds []string) (map[string][]Attachment, error) {
	byMessage := make(map[string][]Attachment)
	if len(messageIds) == 0 {
		return byMessage, nil
	}

	rows, err := db.conn.Query(
		"SELECT id, message_id, file_url, file_name, file_type, file_size, thumbnail_url, created_at "+
			"FROM attachments WHERE message_id = ANY($1) ORDER BY created_at, id",
		pq.Array(messageIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var att Attachment
		if err := rows.Scan(
			&att.Id,
			&att.MessageId,
			&att.FileUrl,
			&att.FileName,
			&att.FileType,
			&att.FileSize,
			&att.ThumbnailUrl,
			&att.CreatedAt,
		); err != nil {
			return nil, err
		}
		byMessage[att.MessageId] = append(byMessage[att.MessageId], att)
	}

	return byMessage, rows.Err()
}

func (db *PgChatRepository) UpdateMessage(params UpdateMessageParams) (Message, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET content = $3, is_edited = TRUE, updated_at = $4 "+
			"WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL",
		params.Id,
		params.SenderId,
		params.Content,
		time.Now().UTC(),
	)
	if err != nil {
		return Message{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, err
	}
	if n == 0 {
		return Message{}, sql.ErrNoRows
	}

	return db.GetMessage(params.Id)
}

func (db *PgChatRepository) SoftDeleteMessage(id string, senderId int) (Message, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET content = $3, deleted_at = $4, updated_at = $4 "+
			"WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL",
		id,
		senderId,
		DeletedMessagePlaceholder,
		time.Now().UTC(),
	)
	if err != nil {
		return Message{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, err
	}
	if n == 0 {
		return Message{}, sql.ErrNoRows
	}

	return db.GetMessage(id)
}

func (db *PgChatRepository) TouchLastRead(roomId, userId int) error {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		"UPDATE participants SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $3), updated_at = $3 "+
			"WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
		now,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgChatRepository) UnreadCount(roomId, userId int) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages m "+
			"JOIN participants p ON p.room_id = m.room_id AND p.user_id = $2 "+
			"WHERE m.room_id = $1 AND m.sender_id <> $2 AND m.deleted_at IS NULL "+
			"AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)",
		roomId,
		userId,
	)

	var count int
	err := row.Scan(&count)

	return count, err
}

func (db *PgChatRepository) ListStaleParticipants(roomId int, cutoff time.Time) ([]Participant, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.room_id, p.user_id, a.username, p.is_active, p.last_read_at, p.created_at, p.updated_at "+
			"FROM participants p JOIN accounts a ON a.id = p.user_id "+
			"WHERE p.room_id = $1 AND p.is_active AND (p.last_read_at IS NULL OR p.last_read_at < $2) "+
			"ORDER BY p.id",
		roomId,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(
			&p.Id,
			&p.RoomId,
			&p.UserId,
			&p.Username,
			&p.IsActive,
			&p.LastReadAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}
