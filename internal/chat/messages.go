package chat

import (
	"context"

	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/npezzotti/tutor-chat/internal/types"
	"github.com/sirupsen/logrus"
)

type SendMessageParams struct {
	RoomId   int64
	SenderId int64
	Body     string
	Name     string
	Avatar   string
}

// SendMessage persists a message and then publishes the stored row to the
// room's current subscribers. Nothing is published when the write fails.
func (s *Service) SendMessage(ctx context.Context, params SendMessageParams) (types.Message, error) {
	if err := required("room_id", params.RoomId); err != nil {
		return types.Message{}, err
	}
	if err := required("sender_id", params.SenderId); err != nil {
		return types.Message{}, err
	}

	stored, err := s.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    params.RoomId,
		SenderId:  params.SenderId,
		Body:      params.Body,
		Name:      params.Name,
		Avatar:    params.Avatar,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"room_id":   params.RoomId,
			"sender_id": params.SenderId,
		}).WithError(err).Error("save message")
		return types.Message{}, &StorageError{Op: "save message", Err: err}
	}

	msg := toMessage(stored)
	n := s.pub.Publish(msg.RoomId, msg)
	s.log.WithFields(logrus.Fields{
		"room_id":     msg.RoomId,
		"message_id":  msg.Id,
		"subscribers": n,
	}).Debug("message published")

	return msg, nil
}

// GetHistory returns every message of a room in chronological order.
func (s *Service) GetHistory(ctx context.Context, roomId int64) ([]types.Message, error) {
	if err := required("room_id", roomId); err != nil {
		return nil, err
	}

	rows, err := s.db.GetMessages(ctx, roomId)
	if err != nil {
		s.log.WithField("room_id", roomId).WithError(err).Error("get messages")
		return nil, &StorageError{Op: "get messages", Err: err}
	}

	messages := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, toMessage(row))
	}

	return messages, nil
}
