package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a contact or message id does not exist.
var ErrNotFound = errors.New("not found")

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
