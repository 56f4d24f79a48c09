package database

import "time"

type Room struct {
	Id        int64
	StudentId int64
	TeacherId int64
	CreatedAt time.Time
}

type Message struct {
	Id        int64
	RoomId    int64
	SenderId  int64
	Body      string
	Name      string
	Avatar    string
	CreatedAt time.Time
	IsRead    bool
}

// InboxRow is a room joined to a single message row.
type InboxRow struct {
	Room    Room
	Message Message
}

type CreateRoomParams struct {
	StudentId int64
	TeacherId int64
}

type CreateMessageParams struct {
	RoomId    int64
	SenderId  int64
	Body      string
	Name      string
	Avatar    string
	CreatedAt time.Time
}
