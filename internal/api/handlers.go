package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/abroadhq/chat-server/internal/chat"
	"github.com/abroadhq/chat-server/internal/server"
	"github.com/abroadhq/chat-server/internal/types"
)

type AttachmentRequest struct {
	FileUrl      string `json:"file_url"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	ThumbnailUrl string `json:"thumbnail_url"`
}

type SendMessageRequest struct {
	RoomId      string              `json:"room_id"`
	Content     string              `json:"content"`
	Type        string              `json:"type"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// SendMessageResponse confirms a persisted send. Message carries the
// server-assigned id the client swaps in for its optimistic entry.
type SendMessageResponse struct {
	Success bool          `json:"success"`
	Message types.Message `json:"message"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type CreateRoomRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	ParticipantIds []int  `json:"participant_ids"`
}

type ParticipantRequest struct {
	RoomId string `json:"room_id"`
	UserId int    `json:"user_id"`
}

type MarkReadRequest struct {
	RoomId string `json:"room_id"`
}

type UnreadCountResponse struct {
	RoomId string `json:"room_id"`
	Count  int    `json:"count"`
}

// ClientConfigResponse carries the reconciliation tunables clients honor:
// how often to poll and how long to remember own message ids.
type ClientConfigResponse struct {
	PollIntervalMs int64 `json:"poll_interval_ms"`
	DedupWindowMs  int64 `json:"dedup_window_ms"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// domainError maps service errors onto HTTP responses.
func domainError(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, chat.ErrMessageNotFound):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrNotParticipant), errors.Is(err, chat.ErrNotSender),
		errors.Is(err, chat.ErrNotRoomOwner):
		return NewForbiddenError()
	case errors.Is(err, chat.ErrRoomClosed):
		return NewConflictError("room is closed")
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidMessageType),
		errors.Is(err, chat.ErrInvalidRoomType):
		return NewBadRequestError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := chat.SendMessageParams{
		RoomId:   req.RoomId,
		SenderId: userId,
		Content:  req.Content,
		Type:     req.Type,
	}
	for _, a := range req.Attachments {
		params.Attachments = append(params.Attachments, chat.AttachmentParams{
			FileUrl:      a.FileUrl,
			FileName:     a.FileName,
			FileType:     a.FileType,
			FileSize:     a.FileSize,
			ThumbnailUrl: a.ThumbnailUrl,
		})
	}

	msg, err := s.chat.Send(params)
	if err != nil {
		s.log.Println("send message:", err)
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, SendMessageResponse{
		Success: true,
		Message: msg,
	})
}

// getMessages serves the polling fallback: the recent window of a room's
// messages, newest last. Listing also advances the caller's read cursor.
func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.chat.ListMessages(roomId, userId)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) getMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.chat.GetMessage(r.PathValue("id"), userId)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.chat.EditMessage(r.PathValue("id"), userId, req.Content)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.DeleteMessage(r.PathValue("id"), userId); err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.CreateRoom(chat.CreateRoomParams{
		Name:           req.Name,
		Type:           req.Type,
		CreatedBy:      userId,
		ParticipantIds: req.ParticipantIds,
	})
	if err != nil {
		s.log.Println("create room:", err)
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *ChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.chat.GetRoom(externalId)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ChatApp) closeRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.CloseRoom(externalId, userId); err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.UnloadRoom(r.Context(), externalId, true); err != nil {
		s.log.Println("unload closed room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.chat.ListRooms(userId)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ChatApp) addParticipant(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.RoomId == "" || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participant, err := s.chat.AddParticipant(req.RoomId, userId, req.UserId)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, participant)
}

func (s *ChatApp) removeParticipant(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	target := userId
	if targetStr := r.URL.Query().Get("user_id"); targetStr != "" {
		var err error
		target, err = strconv.Atoi(targetStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	// participants may remove themselves; anything else is an owner action
	// handled inside the service
	if err := s.chat.RemoveParticipant(roomId, userId, target); err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.MarkRead(req.RoomId, userId); err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatApp) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	count, err := s.chat.UnreadCount(roomId, userId)
	if err != nil {
		errResp := domainError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{RoomId: roomId, Count: count})
}

func (s *ChatApp) getClientConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, ClientConfigResponse{
		PollIntervalMs: s.pollInterval.Milliseconds(),
		DedupWindowMs:  s.dedupWindow.Milliseconds(),
	})
}

func (s *ChatApp) healthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(id)
	if err != nil {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:        account.Id,
		Username:  account.Username,
		AvatarUrl: account.AvatarUrl,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
