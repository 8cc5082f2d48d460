package storage

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrNotFound means the remote object does not exist; callers treat
	// this as "no prior data", not a failure.
	ErrNotFound = errors.New("object not found")

	ErrManagerClosed = errors.New("generation manager closed")
)
