package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Change is one mutation recorded in the change log.
type Change struct {
	Seq       int64
	Key       string
	Value     string
	Removed   bool
	Origin    string
	ChangedAt time.Time
}
