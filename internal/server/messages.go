package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/tutor-chat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a request read from a live connection. Exactly one of
// the action fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	JoinRoom    *RoomRequest `json:"join_room,omitempty"`
	LeaveRoom   *RoomRequest `json:"leave_room,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	MarkRead    *MarkRead    `json:"mark_read,omitempty"`
	client      *Client      `json:"-"`
}

type RoomRequest struct {
	RoomId types.ID `json:"room_id"`
}

type SendMessage struct {
	RoomId   types.ID `json:"room_id"`
	SenderId types.ID `json:"sender_id"`
	Body     string   `json:"message"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar"`
}

type MarkRead struct {
	RoomId   types.ID `json:"room_id"`
	ReaderId types.ID `json:"reader_id"`
}

// ServerMessage is either a response to a ClientMessage with the same id or
// a message pushed to room subscribers.
type ServerMessage struct {
	BaseMessage
	Response       *Response      `json:"response,omitempty"`
	ReceiveMessage *types.Message `json:"receive_message,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func newResponse(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", data)
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, reason, nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

// NewReceiveMessage wraps a stored message for delivery to subscribers.
func NewReceiveMessage(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		ReceiveMessage: &msg,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
