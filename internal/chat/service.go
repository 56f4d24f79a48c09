package chat

import (
	"time"

	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/sirupsen/logrus"
)

// Publisher delivers a stored message to the live subscribers of a room and
// reports how many subscribers it was queued for.
type Publisher interface {
	Publish(roomId int64, msg types.Message) int
}

// Service coordinates rooms, message delivery and read state on top of a
// ChatRepository. It is safe for concurrent use.
type Service struct {
	log *logrus.Logger
	db  database.ChatRepository
	pub Publisher
	now func() time.Time
}

func NewService(logger *logrus.Logger, db database.ChatRepository, pub Publisher) *Service {
	return &Service{
		log: logger,
		db:  db,
		pub: pub,
		now: Now,
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		RoomId:    m.RoomId,
		SenderId:  m.SenderId,
		Body:      m.Body,
		Name:      m.Name,
		Avatar:    m.Avatar,
		CreatedAt: m.CreatedAt,
		IsRead:    m.IsRead,
	}
}
