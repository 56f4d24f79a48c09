package database

import (
	"errors"

	"github.com/lib/pq"
)

const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)

var (
	ErrDuplicateRoom = errors.New("room already exists for participants")
	ErrRoomNotFound  = errors.New("room does not exist")
)

func pqErrorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}

	return ""
}

func isUniqueViolation(err error) bool {
	return pqErrorCode(err) == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pqErrorCode(err) == foreignKeyViolation
}
