package repository

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrOpenStore = errors.New("open store failed")

	// ErrBuildStopped means the build was cut short; everything buffered
	// so far was still committed.
	ErrBuildStopped = errors.New("build stopped early")

	// ErrInvalidTerm means the search mode is unknown.
	ErrInvalidTerm = errors.New("invalid search term")
)
