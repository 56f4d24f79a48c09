package chat

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/npezzotti/tutor-chat/internal/testutil"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []types.Message
}

func (p *recordingPublisher) Publish(roomId int64, msg types.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return 1
}

func (p *recordingPublisher) messages() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Message(nil), p.published...)
}

func newTestService(t *testing.T, db database.ChatRepository) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewService(testutil.TestLogger(t), db, pub), pub
}

func TestGetOrCreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent for the same pair", func(t *testing.T) {
		svc, _ := newTestService(t, database.NewMemoryChatRepository())

		first, err := svc.GetOrCreateRoom(ctx, 7, 1)
		require.NoError(t, err)
		second, err := svc.GetOrCreateRoom(ctx, 7, 1)
		require.NoError(t, err)
		assert.Equal(t, first, second, "expected the same room id for repeated calls")

		other, err := svc.GetOrCreateRoom(ctx, 1, 7)
		require.NoError(t, err)
		assert.NotEqual(t, first, other, "expected lookups to be exact-pair")
	})

	t.Run("concurrent callers share one room", func(t *testing.T) {
		svc, _ := newTestService(t, database.NewMemoryChatRepository())

		ids := make([]int64, 10)
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := svc.GetOrCreateRoom(ctx, 3, 1)
				assert.NoError(t, err)
				ids[i] = id
			}()
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id, "expected every caller to get the same room")
		}
	})

	t.Run("missing ids", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		svc, _ := newTestService(t, db)

		_, err := svc.GetOrCreateRoom(ctx, 0, 1)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "student_id", ve.Field)

		_, err = svc.GetOrCreateRoom(ctx, 7, 0)
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "teacher_id", ve.Field)
	})

	t.Run("duplicate insert re-fetches the winner", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByParticipants", mock.Anything, int64(7), int64(1)).Return(database.Room{}, sql.ErrNoRows).Once()
		db.On("CreateRoom", mock.Anything, database.CreateRoomParams{StudentId: 7, TeacherId: 1}).
			Return(database.Room{}, database.ErrDuplicateRoom).Once()
		db.On("GetRoomByParticipants", mock.Anything, int64(7), int64(1)).Return(database.Room{Id: 42}, nil).Once()

		svc, _ := newTestService(t, db)
		id, err := svc.GetOrCreateRoom(ctx, 7, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), id)
	})

	t.Run("lookup failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		dbErr := errors.New("connection refused")
		db.On("GetRoomByParticipants", mock.Anything, int64(7), int64(1)).Return(database.Room{}, dbErr).Once()

		svc, _ := newTestService(t, db)
		_, err := svc.GetOrCreateRoom(ctx, 7, 1)
		assert.True(t, IsStorageError(err), "expected storage error")
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("insert failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomByParticipants", mock.Anything, int64(7), int64(1)).Return(database.Room{}, sql.ErrNoRows).Once()
		db.On("CreateRoom", mock.Anything, mock.Anything).Return(database.Room{}, errors.New("disk full")).Once()

		svc, _ := newTestService(t, db)
		_, err := svc.GetOrCreateRoom(ctx, 7, 1)
		assert.True(t, IsStorageError(err), "expected storage error")
	})
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists then publishes once", func(t *testing.T) {
		repo := database.NewMemoryChatRepository()
		svc, pub := newTestService(t, repo)
		roomId, err := svc.GetOrCreateRoom(ctx, 2, 1)
		require.NoError(t, err)

		msg, err := svc.SendMessage(ctx, SendMessageParams{
			RoomId:   roomId,
			SenderId: 2,
			Body:     "hi",
			Name:     "Alice",
			Avatar:   "a.png",
		})
		require.NoError(t, err)
		assert.NotZero(t, msg.Id, "expected assigned id")
		assert.False(t, msg.IsRead, "expected new message to be unread")
		assert.WithinDuration(t, time.Now(), msg.CreatedAt, time.Second, "expected server-assigned timestamp")

		published := pub.messages()
		require.Len(t, published, 1, "expected exactly one publish")
		assert.Equal(t, msg, published[0], "expected the stored message to be published")
	})

	t.Run("storage failure publishes nothing", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{}, errors.New("write failed")).Once()

		svc, pub := newTestService(t, db)
		_, err := svc.SendMessage(ctx, SendMessageParams{RoomId: 5, SenderId: 2, Body: "hi"})
		assert.True(t, IsStorageError(err), "expected storage error")
		assert.Empty(t, pub.messages(), "expected no publish without a durable record")
	})

	t.Run("unknown room is a storage failure", func(t *testing.T) {
		svc, pub := newTestService(t, database.NewMemoryChatRepository())
		_, err := svc.SendMessage(ctx, SendMessageParams{RoomId: 99, SenderId: 2})
		assert.True(t, IsStorageError(err))
		assert.ErrorIs(t, err, database.ErrRoomNotFound)
		assert.Empty(t, pub.messages())
	})

	t.Run("missing fields", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		svc, pub := newTestService(t, db)

		_, err := svc.SendMessage(ctx, SendMessageParams{SenderId: 2})
		assert.True(t, IsValidationError(err))
		assert.EqualError(t, err, "room_id is required")

		_, err = svc.SendMessage(ctx, SendMessageParams{RoomId: 5})
		assert.True(t, IsValidationError(err))
		assert.EqualError(t, err, "sender_id is required")
		assert.Empty(t, pub.messages())
	})
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("chronological order", func(t *testing.T) {
		repo := database.NewMemoryChatRepository()
		svc, _ := newTestService(t, repo)
		roomId, err := svc.GetOrCreateRoom(ctx, 2, 1)
		require.NoError(t, err)

		for i, sender := range []int64{2, 1, 2, 2, 1} {
			_, err := svc.SendMessage(ctx, SendMessageParams{RoomId: roomId, SenderId: sender, Body: string(rune('a' + i))})
			require.NoError(t, err)
		}

		history, err := svc.GetHistory(ctx, roomId)
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i := 1; i < len(history); i++ {
			assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt), "expected non-decreasing created_at")
		}
		assert.Equal(t, "a", history[0].Body)
		assert.Equal(t, "e", history[4].Body)
	})

	t.Run("empty room", func(t *testing.T) {
		svc, _ := newTestService(t, database.NewMemoryChatRepository())
		history, err := svc.GetHistory(ctx, 12)
		assert.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})

	t.Run("storage failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetMessages", mock.Anything, int64(5)).Return([]database.Message(nil), errors.New("timeout")).Once()

		svc, _ := newTestService(t, db)
		_, err := svc.GetHistory(ctx, 5)
		assert.True(t, IsStorageError(err))
	})
}

func TestMarkAsRead(t *testing.T) {
	ctx := context.Background()

	t.Run("marks only the other participant's messages", func(t *testing.T) {
		svc, _ := newTestService(t, database.NewMemoryChatRepository())
		roomId, err := svc.GetOrCreateRoom(ctx, 2, 1)
		require.NoError(t, err)

		// three from A (2), two from B (1)
		for _, sender := range []int64{2, 1, 2, 1, 2} {
			_, err := svc.SendMessage(ctx, SendMessageParams{RoomId: roomId, SenderId: sender})
			require.NoError(t, err)
		}

		n, err := svc.MarkAsRead(ctx, roomId, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "expected the three messages from sender 2 to be marked")

		n, err = svc.MarkAsRead(ctx, roomId, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "expected nothing left to mark")

		history, err := svc.GetHistory(ctx, roomId)
		require.NoError(t, err)
		for _, m := range history {
			assert.Equal(t, m.SenderId == 2, m.IsRead, "message %d read state", m.Id)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		svc, _ := newTestService(t, db)

		_, err := svc.MarkAsRead(ctx, 0, 1)
		assert.True(t, IsValidationError(err))
		_, err = svc.MarkAsRead(ctx, 5, 0)
		assert.EqualError(t, err, "reader_id is required")
	})

	t.Run("storage failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("MarkMessagesRead", mock.Anything, int64(5), int64(1)).Return(int64(0), errors.New("deadlock")).Once()

		svc, _ := newTestService(t, db)
		_, err := svc.MarkAsRead(ctx, 5, 1)
		assert.True(t, IsStorageError(err))
	})
}

func TestListInboxEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("unread rooms first regardless of time", func(t *testing.T) {
		repo := database.NewMemoryChatRepository()
		svc, _ := newTestService(t, repo)
		clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		svc.now = func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}

		unreadRoom, err := svc.GetOrCreateRoom(ctx, 2, 1)
		require.NoError(t, err)
		readRoom, err := svc.GetOrCreateRoom(ctx, 3, 1)
		require.NoError(t, err)

		_, err = svc.SendMessage(ctx, SendMessageParams{RoomId: unreadRoom, SenderId: 2, Body: "older"})
		require.NoError(t, err)
		_, err = svc.SendMessage(ctx, SendMessageParams{RoomId: readRoom, SenderId: 3, Body: "newer"})
		require.NoError(t, err)
		_, err = svc.MarkAsRead(ctx, readRoom, 1)
		require.NoError(t, err)

		entries, err := svc.ListInboxEntries(ctx, 1)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, unreadRoom, entries[0].RoomId, "expected unread room first")
		assert.Equal(t, "older", entries[0].Body)
		assert.Equal(t, int64(2), entries[0].StudentId)
		assert.Equal(t, int64(1), entries[0].TeacherId)
		assert.Equal(t, readRoom, entries[1].RoomId)
		assert.True(t, entries[1].IsRead)
	})

	t.Run("rooms without qualifying messages are omitted", func(t *testing.T) {
		svc, _ := newTestService(t, database.NewMemoryChatRepository())
		roomId, err := svc.GetOrCreateRoom(ctx, 2, 1)
		require.NoError(t, err)
		_, err = svc.SendMessage(ctx, SendMessageParams{RoomId: roomId, SenderId: 1, Body: "from system"})
		require.NoError(t, err)

		entries, err := svc.ListInboxEntries(ctx, 1)
		assert.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("storage failure", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("ListLatestMessages", mock.Anything, int64(1)).Return([]database.InboxRow(nil), errors.New("timeout")).Once()

		svc, _ := newTestService(t, db)
		_, err := svc.ListInboxEntries(ctx, 1)
		assert.True(t, IsStorageError(err))
	})
}

func TestEndToEndSendThenHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, database.NewMemoryChatRepository())

	var roomId int64
	for student := int64(10); roomId < 5; student++ {
		id, err := svc.GetOrCreateRoom(ctx, student, 1)
		require.NoError(t, err)
		roomId = id
	}
	require.Equal(t, int64(5), roomId)

	_, err := svc.SendMessage(ctx, SendMessageParams{RoomId: 5, SenderId: 2, Body: "hi", Name: "Alice", Avatar: "a.png"})
	require.NoError(t, err)

	history, err := svc.GetHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Body)
	assert.Equal(t, int64(2), history[0].SenderId)
	assert.False(t, history[0].IsRead)
}
