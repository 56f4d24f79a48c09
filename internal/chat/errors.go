package chat

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed required field. It is
// returned before any storage access.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// StorageError wraps a failure of the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func required(field string, id int64) error {
	if id <= 0 {
		return &ValidationError{Field: field}
	}
	return nil
}
