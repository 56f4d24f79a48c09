package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"
)

type roomKey struct {
	studentId int64
	teacherId int64
}

// MemoryChatRepository keeps rooms and messages in process memory. It is
// selected with the "memory" DSN for local development and backs tests
// that need real read/write semantics.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	rooms    map[int64]Room
	pairs    map[roomKey]int64
	messages []Message
	roomSeq  int64
	msgSeq   int64
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		rooms: make(map[int64]Room),
		pairs: make(map[roomKey]int64),
	}
}

func (m *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryChatRepository) Close() error {
	return nil
}

func (m *MemoryChatRepository) GetRoomByParticipants(ctx context.Context, studentId, teacherId int64) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairs[roomKey{studentId, teacherId}]
	if !ok {
		return Room{}, sql.ErrNoRows
	}

	return m.rooms[id], nil
}

func (m *MemoryChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := roomKey{params.StudentId, params.TeacherId}
	if _, ok := m.pairs[key]; ok {
		return Room{}, ErrDuplicateRoom
	}

	m.roomSeq++
	room := Room{
		Id:        m.roomSeq,
		StudentId: params.StudentId,
		TeacherId: params.TeacherId,
		CreatedAt: time.Now().UTC(),
	}
	m.rooms[room.Id] = room
	m.pairs[key] = room.Id

	return room, nil
}

func (m *MemoryChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[params.RoomId]; !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrRoomNotFound, params.RoomId)
	}

	m.msgSeq++
	msg := Message{
		Id:        m.msgSeq,
		RoomId:    params.RoomId,
		SenderId:  params.SenderId,
		Body:      params.Body,
		Name:      params.Name,
		Avatar:    params.Avatar,
		CreatedAt: params.CreatedAt,
	}
	m.messages = append(m.messages, msg)

	return msg, nil
}

func compareMessages(a, b Message) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Id, b.Id))
}

func (m *MemoryChatRepository) GetMessages(ctx context.Context, roomId int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.RoomId == roomId {
			messages = append(messages, msg)
		}
	}
	slices.SortStableFunc(messages, compareMessages)

	return messages, nil
}

func (m *MemoryChatRepository) MarkMessagesRead(ctx context.Context, roomId, readerId int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.RoomId == roomId && msg.SenderId != readerId && !msg.IsRead {
			msg.IsRead = true
			updated++
		}
	}

	return updated, nil
}

func (m *MemoryChatRepository) ListLatestMessages(ctx context.Context, excludeSenderId int64) ([]InboxRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[int64]Message)
	for _, msg := range m.messages {
		if msg.SenderId == excludeSenderId {
			continue
		}
		if cur, ok := latest[msg.RoomId]; !ok || compareMessages(msg, cur) > 0 {
			latest[msg.RoomId] = msg
		}
	}

	rows := make([]InboxRow, 0, len(latest))
	for roomId, msg := range latest {
		rows = append(rows, InboxRow{Room: m.rooms[roomId], Message: msg})
	}

	slices.SortFunc(rows, func(a, b InboxRow) int {
		if a.Message.IsRead != b.Message.IsRead {
			if !a.Message.IsRead {
				return -1
			}
			return 1
		}
		return cmp.Or(
			b.Message.CreatedAt.Compare(a.Message.CreatedAt),
			cmp.Compare(a.Room.Id, b.Room.Id),
		)
	})

	return rows, nil
}
