package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/npezzotti/tutor-chat/internal/database"
	"github.com/sirupsen/logrus"
)

// GetOrCreateRoom returns the room for the exact (student, teacher) pair,
// creating it on first use. A concurrent creation of the same pair is
// resolved by re-reading the row that won.
func (s *Service) GetOrCreateRoom(ctx context.Context, studentId, teacherId int64) (int64, error) {
	if err := required("student_id", studentId); err != nil {
		return 0, err
	}
	if err := required("teacher_id", teacherId); err != nil {
		return 0, err
	}

	logger := s.log.WithFields(logrus.Fields{"student_id": studentId, "teacher_id": teacherId})

	room, err := s.db.GetRoomByParticipants(ctx, studentId, teacherId)
	if err == nil {
		logger.WithField("room_id", room.Id).Debug("room already exists")
		return room.Id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.WithError(err).Error("get room")
		return 0, &StorageError{Op: "get room", Err: err}
	}

	room, err = s.db.CreateRoom(ctx, database.CreateRoomParams{
		StudentId: studentId,
		TeacherId: teacherId,
	})
	if errors.Is(err, database.ErrDuplicateRoom) {
		logger.Debug("room created concurrently, re-fetching")
		room, err = s.db.GetRoomByParticipants(ctx, studentId, teacherId)
	}
	if err != nil {
		logger.WithError(err).Error("create room")
		return 0, &StorageError{Op: "create room", Err: err}
	}

	logger.WithField("room_id", room.Id).Info("room created")
	return room.Id, nil
}
