package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/tutor-chat/internal/chat"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
	opTimeout      = 10 * time.Second
)

// ChatService is the subset of the chat service a live connection can
// invoke.
type ChatService interface {
	SendMessage(ctx context.Context, params chat.SendMessageParams) (types.Message, error)
	MarkAsRead(ctx context.Context, roomId, readerId int64) (int64, error)
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	svc        ChatService
	log        *logrus.Entry
	send       chan *ServerMessage
	rooms      map[int64]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
	opTimeout  time.Duration
}

func NewClient(conn *websocket.Conn, cs *ChatServer, svc ChatService, logger *logrus.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		svc:        svc,
		log:        logger.WithField("client_id", id),
		send:       make(chan *ServerMessage, sendQueueSize),
		rooms:      make(map[int64]*Room),
		stop:       make(chan struct{}),
		opTimeout:  opTimeout,
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws read")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage(0))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch {
	case msg.JoinRoom != nil:
		c.joinRoom(msg)
	case msg.LeaveRoom != nil:
		c.leaveRoom(msg)
	case msg.SendMessage != nil:
		c.sendMessage(msg)
	case msg.MarkRead != nil:
		c.markRead(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	roomId := int64(msg.JoinRoom.RoomId)
	if roomId == 0 {
		c.queueMessage(ErrBadRequest(msg.Id, "room_id is required"))
		return
	}

	joined, err := c.chatServer.Join(c, roomId)
	if err != nil {
		c.log.WithError(err).WithField("room_id", roomId).Warn("join failed")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"room_id": roomId,
		"joined":  joined,
	}))
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	roomId := int64(msg.LeaveRoom.RoomId)
	if roomId == 0 {
		c.queueMessage(ErrBadRequest(msg.Id, "room_id is required"))
		return
	}

	left, err := c.chatServer.Leave(c, roomId)
	if err != nil {
		c.log.WithError(err).WithField("room_id", roomId).Warn("leave failed")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"room_id": roomId,
		"left":    left,
	}))
}

func (c *Client) sendMessage(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	sm := msg.SendMessage
	stored, err := c.svc.SendMessage(ctx, chat.SendMessageParams{
		RoomId:   int64(sm.RoomId),
		SenderId: int64(sm.SenderId),
		Body:     sm.Body,
		Name:     sm.Name,
		Avatar:   sm.Avatar,
	})
	if err != nil {
		c.queueMessage(c.errorResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id, stored))
}

func (c *Client) markRead(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	updated, err := c.svc.MarkAsRead(ctx, int64(msg.MarkRead.RoomId), int64(msg.MarkRead.ReaderId))
	if err != nil {
		c.queueMessage(c.errorResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"updated": updated}))
}

func (c *Client) errorResponse(id int, err error) *ServerMessage {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		return ErrBadRequest(id, verr.Error())
	}

	c.log.WithError(err).Error("request failed")
	return ErrInternalError(id)
}

// queueMessage never blocks. It reports false when the send queue is full
// or the client has stopped.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("send queue full, dropping message")
		return false
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.chatServer.UnregisterClient(c)
	c.stopClient()
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) delRoom(id int64) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) getRoom(id int64) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}

func (c *Client) roomIds() []int64 {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
