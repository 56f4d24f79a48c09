package chat

import (
	"context"

	"github.com/npezzotti/tutor-chat/internal/types"
)

// ListInboxEntries returns, per room, the latest message not authored by
// excludeSenderId. Unread entries come first, newest first within each group.
func (s *Service) ListInboxEntries(ctx context.Context, excludeSenderId int64) ([]types.InboxEntry, error) {
	rows, err := s.db.ListLatestMessages(ctx, excludeSenderId)
	if err != nil {
		s.log.WithError(err).Error("list latest messages")
		return nil, &StorageError{Op: "list inbox", Err: err}
	}

	entries := make([]types.InboxEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, types.InboxEntry{
			RoomId:    row.Room.Id,
			StudentId: row.Room.StudentId,
			TeacherId: row.Room.TeacherId,
			MessageId: row.Message.Id,
			SenderId:  row.Message.SenderId,
			Body:      row.Message.Body,
			Name:      row.Message.Name,
			Avatar:    row.Message.Avatar,
			CreatedAt: row.Message.CreatedAt,
			IsRead:    row.Message.IsRead,
		})
	}

	return entries, nil
}
