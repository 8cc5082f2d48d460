// Package config defines daemon configuration structures and loading hooks.
//
// Conventions:
// - Defaults come from New(); Load layers file and env on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
)

// Default tuning values. The harvester/builder pair must finish inside one
// harvest cadence window, so the deadline stays below the cadence.
const (
	defaultWorkerCount     = 15
	defaultPageRetries     = 5
	defaultRetryBackoffMS  = 500
	defaultBatchSize       = 1000
	defaultQueueSize       = 100_000
	defaultDeadlineMinutes = 18
	defaultCadenceMinutes  = 20
)

// EventConfig describes one tracked event: its id and the named phase
// boundary timestamps, all RFC3339.
type EventConfig struct {
	ID            int64  `koanf:"id"`
	Preliminaries string `koanf:"preliminaries"`
	Interlude     string `koanf:"interlude"`
	Day1          string `koanf:"day1"`
	Day2          string `koanf:"day2"`
	Day3          string `koanf:"day3"`
	Day4          string `koanf:"day4"`
	Day5          string `koanf:"day5"`
	End           string `koanf:"end"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DataDir holds the two generation database files.
	DataDir string `koanf:"data_dir"`

	// RankingBaseURL is the remote ranking API root.
	RankingBaseURL string `koanf:"ranking_base_url"`

	// CurveURL points at the historical tier-curve reference, fetched once
	// per event. Empty disables projections.
	CurveURL string `koanf:"curve_url"`

	// ArchiveDir is where the object-store collaborator keeps durable
	// copies of generation files (DirStore backend).
	ArchiveDir string `koanf:"archive_dir"`

	// WorkerCount sets the number of concurrent page fetchers.
	WorkerCount int `koanf:"worker_count"`

	// PageRetries bounds fetch attempts for one page before it is skipped.
	PageRetries int `koanf:"page_retries"`

	// RetryBackoffMS is the constant backoff between page fetch retries.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`

	// BatchSize bounds rows per store transaction.
	BatchSize int `koanf:"batch_size"`

	// QueueSize bounds the in-memory record queue.
	QueueSize int `koanf:"queue_size"`

	// HarvestDeadlineMin caps one harvest+build pass, in minutes.
	HarvestDeadlineMin int `koanf:"harvest_deadline_min"`

	// HarvestCadenceMin is the scheduler tick interval, in minutes.
	HarvestCadenceMin int `koanf:"harvest_cadence_min"`

	// Event holds the tracked event schedule.
	Event EventConfig `koanf:"event"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ ...context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		DataDir:            "data",
		ArchiveDir:         "archive",
		WorkerCount:        defaultWorkerCount,
		PageRetries:        defaultPageRetries,
		RetryBackoffMS:     defaultRetryBackoffMS,
		BatchSize:          defaultBatchSize,
		QueueSize:          defaultQueueSize,
		HarvestDeadlineMin: defaultDeadlineMinutes,
		HarvestCadenceMin:  defaultCadenceMinutes,
	}
}
