package database

import "context"

// ChatRepository is the persistence gateway for rooms and messages.
// Implementations must be safe for concurrent use.
type ChatRepository interface {
	Ping(ctx context.Context) error
	// GetRoomByParticipants returns sql.ErrNoRows when the pair has no room.
	GetRoomByParticipants(ctx context.Context, studentId, teacherId int64) (Room, error)
	// CreateRoom returns ErrDuplicateRoom when the pair already has a room.
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, roomId int64) ([]Message, error)
	MarkMessagesRead(ctx context.Context, roomId, readerId int64) (int64, error)
	ListLatestMessages(ctx context.Context, excludeSenderId int64) ([]InboxRow, error)
	Close() error
}
