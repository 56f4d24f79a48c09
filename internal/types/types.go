package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a row identifier as sent by clients. It decodes from a JSON number
// or a numeric string, since browser clients send either.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		data = []byte(s)
	}

	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", data)
	}

	*id = ID(v)
	return nil
}

// ParseID parses a path or form value. An empty string yields 0.
func ParseID(s string) (ID, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}

	return ID(v), nil
}

type Room struct {
	Id        int64     `json:"id"`
	StudentId int64     `json:"student_id"`
	TeacherId int64     `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id        int64     `json:"id"`
	RoomId    int64     `json:"room_id"`
	SenderId  int64     `json:"sender_id"`
	Body      string    `json:"message"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}

// InboxEntry pairs a room with its most recent message from someone other
// than the excluded sender.
type InboxEntry struct {
	RoomId    int64     `json:"room_id"`
	StudentId int64     `json:"student_id"`
	TeacherId int64     `json:"teacher_id"`
	MessageId int64     `json:"message_id"`
	SenderId  int64     `json:"sender_id"`
	Body      string    `json:"message"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}
