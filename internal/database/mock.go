package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) GetRoomByParticipants(ctx context.Context, studentId, teacherId int64) (Room, error) {
	args := m.Called(ctx, studentId, teacherId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, roomId int64) ([]Message, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) MarkMessagesRead(ctx context.Context, roomId, readerId int64) (int64, error) {
	args := m.Called(ctx, roomId, readerId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockChatRepository) ListLatestMessages(ctx context.Context, excludeSenderId int64) ([]InboxRow, error) {
	args := m.Called(ctx, excludeSenderId)
	return args.Get(0).([]InboxRow), args.Error(1)
}
