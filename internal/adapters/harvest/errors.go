package harvest

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrHarvestFailed means no usable records were produced at all.
	ErrHarvestFailed = errors.New("harvest failed")

	// ErrStopped means the pass was cut short by deadline, shutdown, or
	// maintenance; whatever was produced is still usable.
	ErrStopped = errors.New("harvest stopped early")
)
