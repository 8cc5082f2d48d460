package event

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidSchedule = errors.New("invalid event schedule")
)
