package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) CloseRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockChatRepository) UpsertParticipant(roomId, userId int) (Participant, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockChatRepository) DeactivateParticipant(roomId, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) GetParticipant(roomId, userId int) (Participant, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(userId int) ([]RoomSummary, error) {
	args := m.Called(userId)
	return args.Get(0).([]RoomSummary), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(roomId int) ([]Message, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessage(params UpdateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) SoftDeleteMessage(id string, senderId int) (Message, error) {
	args := m.Called(id, senderId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) TouchLastRead(roomId, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) UnreadCount(roomId, userId int) (int, error) {
	args := m.Called(roomId, userId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) ListStaleParticipants(roomId int, cutoff time.Time) ([]Participant, error) {
	args := m.Called(roomId, cutoff)
	return args.Get(0).([]Participant), args.Error(1)
}
