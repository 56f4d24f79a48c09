package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/tutor-chat/internal/chat"
	"github.com/npezzotti/tutor-chat/internal/testutil"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatService stores nothing. Sends are echoed back with an id and
// published through the configured publisher.
type fakeChatService struct {
	mu      sync.Mutex
	pub     chat.Publisher
	sendErr error
	readErr error
	nextId  int64
}

func (f *fakeChatService) SendMessage(ctx context.Context, p chat.SendMessageParams) (types.Message, error) {
	if p.RoomId <= 0 {
		return types.Message{}, &chat.ValidationError{Field: "room_id"}
	}
	if f.sendErr != nil {
		return types.Message{}, f.sendErr
	}

	f.mu.Lock()
	f.nextId++
	msg := types.Message{
		Id:       f.nextId,
		RoomId:   p.RoomId,
		SenderId: p.SenderId,
		Body:     p.Body,
		Name:     p.Name,
		Avatar:   p.Avatar,
	}
	f.mu.Unlock()

	if f.pub != nil {
		f.pub.Publish(msg.RoomId, msg)
	}
	return msg, nil
}

func (f *fakeChatService) MarkAsRead(ctx context.Context, roomId, readerId int64) (int64, error) {
	if readerId <= 0 {
		return 0, &chat.ValidationError{Field: "reader_id"}
	}
	if f.readErr != nil {
		return 0, f.readErr
	}
	return 2, nil
}

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})
		c.send = make(chan *ServerMessage, 1)

		assert.True(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to return true when channel is not full")
		assert.Len(t, c.send, 1)
	})

	t.Run("channel full", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})
		c.send = make(chan *ServerMessage, 1)
		c.send <- &ServerMessage{}

		assert.False(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to return false when channel is full")
	})

	t.Run("stopped client", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})
		c.stopClient()

		assert.False(t, c.queueMessage(&ServerMessage{}))
		assert.Empty(t, c.send)
	})
}

func Test_serializeMessage(t *testing.T) {
	message := NoErrOK(1, "test data")

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes))
}

func Test_stopClient(t *testing.T) {
	c := newTestClient(t, nil, &fakeChatService{})

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_addRoom_delRoom_getRoom(t *testing.T) {
	c := newTestClient(t, nil, &fakeChatService{})
	r := newRoom(3, testutil.TestLogger(t))

	c.addRoom(r)
	assert.Equal(t, r, c.getRoom(3))
	assert.Equal(t, []int64{3}, c.roomIds())

	c.delRoom(3)
	assert.Nil(t, c.getRoom(3))
	assert.Empty(t, c.roomIds())
}

func Test_handleMessage(t *testing.T) {
	t.Run("join and leave", func(t *testing.T) {
		cs := runTestChatServer(t)
		c := registeredClient(t, cs)

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, JoinRoom: &RoomRequest{RoomId: 5}})
		res := receive(t, c)
		assert.Equal(t, 1, res.Id)
		assert.Equal(t, http.StatusOK, res.Response.ResponseCode)
		assert.Equal(t, map[string]any{"room_id": int64(5), "joined": true}, res.Response.Data)
		assert.Equal(t, 1, cs.SubscriberCount(5))

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 2}, LeaveRoom: &RoomRequest{RoomId: 5}})
		res = receive(t, c)
		assert.Equal(t, 2, res.Id)
		assert.Equal(t, map[string]any{"room_id": int64(5), "left": true}, res.Response.Data)
		assert.Equal(t, 0, cs.SubscriberCount(5))
	})

	t.Run("join without room id", func(t *testing.T) {
		cs := runTestChatServer(t)
		c := registeredClient(t, cs)

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, JoinRoom: &RoomRequest{}})
		res := receive(t, c)
		assert.Equal(t, http.StatusBadRequest, res.Response.ResponseCode)
		assert.Equal(t, "room_id is required", res.Response.Error)
	})

	t.Run("send message", func(t *testing.T) {
		cs := runTestChatServer(t)
		svc := &fakeChatService{pub: cs}
		c := newTestClient(t, cs, svc)
		require.NoError(t, cs.RegisterClient(c))
		_, err := cs.Join(c, 5)
		require.NoError(t, err)

		c.handleMessage(&ClientMessage{
			BaseMessage: BaseMessage{Id: 4},
			SendMessage: &SendMessage{RoomId: 5, SenderId: 7, Body: "hi", Name: "Alice", Avatar: "a.png"},
		})

		push := receive(t, c)
		require.NotNil(t, push.ReceiveMessage, "expected the push to precede the response")
		assert.Equal(t, "hi", push.ReceiveMessage.Body)

		res := receive(t, c)
		assert.Equal(t, 4, res.Id)
		assert.Equal(t, http.StatusAccepted, res.Response.ResponseCode)
		assert.Equal(t, *push.ReceiveMessage, res.Response.Data)
	})

	t.Run("send message validation error", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 5}, SendMessage: &SendMessage{SenderId: 7}})
		res := receive(t, c)
		assert.Equal(t, http.StatusBadRequest, res.Response.ResponseCode)
		assert.Equal(t, "room_id is required", res.Response.Error)
	})

	t.Run("send message storage error keeps the connection", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{
			sendErr: &chat.StorageError{Op: "save message", Err: errors.New("db down")},
		})

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 6}, SendMessage: &SendMessage{RoomId: 5, SenderId: 7}})
		res := receive(t, c)
		assert.Equal(t, http.StatusInternalServerError, res.Response.ResponseCode)
		assert.Equal(t, "internal server error", res.Response.Error, "expected storage details to stay server side")

		select {
		case <-c.stop:
			t.Error("expected client to remain running")
		default:
		}
	})

	t.Run("mark read", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 7}, MarkRead: &MarkRead{RoomId: 5, ReaderId: 1}})
		res := receive(t, c)
		assert.Equal(t, http.StatusOK, res.Response.ResponseCode)
		assert.Equal(t, map[string]any{"updated": int64(2)}, res.Response.Data)

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 8}, MarkRead: &MarkRead{RoomId: 5}})
		res = receive(t, c)
		assert.Equal(t, http.StatusBadRequest, res.Response.ResponseCode)
		assert.Equal(t, "reader_id is required", res.Response.Error)
	})

	t.Run("unknown envelope", func(t *testing.T) {
		c := newTestClient(t, nil, &fakeChatService{})

		c.handleMessage(&ClientMessage{BaseMessage: BaseMessage{Id: 9}})
		res := receive(t, c)
		assert.Equal(t, 9, res.Id)
		assert.Equal(t, "invalid message format", res.Response.Error)
	})
}

func TestClient_ReadWrite(t *testing.T) {
	cs := runTestChatServer(t)
	svc := &fakeChatService{pub: cs}
	logger := testutil.TestLogger(t)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}

		c, err := NewClient(conn, cs, svc, logger)
		if err != nil {
			t.Errorf("new client: %v", err)
			return
		}
		if err := cs.RegisterClient(c); err != nil {
			t.Errorf("register: %v", err)
			return
		}

		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	readJSON := func() map[string]any {
		t.Helper()
		var m map[string]any
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readJSON()
	assert.Equal(t, "invalid message format", bad["response"].(map[string]any)["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "join_room": map[string]any{"room_id": "5"}}))
	joined := readJSON()
	assert.EqualValues(t, 1, joined["id"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":           2,
		"send_message": map[string]any{"room_id": 5, "sender_id": 7, "message": "hi"},
	}))
	push := readJSON()
	require.Contains(t, push, "receive_message")
	assert.Equal(t, "hi", push["receive_message"].(map[string]any)["message"])

	ack := readJSON()
	assert.EqualValues(t, 2, ack["id"])
	assert.EqualValues(t, http.StatusAccepted, ack["response"].(map[string]any)["response_code"])

	conn.Close()
	assert.Eventually(t, func() bool {
		return cs.NumClients() == 0 && cs.SubscriberCount(5) == 0
	}, 2*time.Second, 10*time.Millisecond, "expected disconnect to release subscriptions")
}
