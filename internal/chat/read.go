package chat

import (
	"context"

	"github.com/sirupsen/logrus"
)

// MarkAsRead flags every unread message in the room not sent by readerId as
// read, in one conditional update, and returns how many rows changed.
func (s *Service) MarkAsRead(ctx context.Context, roomId, readerId int64) (int64, error) {
	if err := required("room_id", roomId); err != nil {
		return 0, err
	}
	if err := required("reader_id", readerId); err != nil {
		return 0, err
	}

	logger := s.log.WithFields(logrus.Fields{"room_id": roomId, "reader_id": readerId})

	n, err := s.db.MarkMessagesRead(ctx, roomId, readerId)
	if err != nil {
		logger.WithError(err).Error("mark messages read")
		return 0, &StorageError{Op: "mark messages read", Err: err}
	}

	logger.WithField("updated", n).Debug("messages marked read")
	return n, nil
}
