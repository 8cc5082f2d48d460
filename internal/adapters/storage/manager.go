package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okian/gridwatch/internal/adapters/repository"
	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/logger"
	"github.com/okian/gridwatch/pkg/metrics"
)

// Generation indices. Exactly two live generations exist at any time.
const (
	genCurrent  = 0
	genPrevious = 1
)

const (
	currentFile  = "current.db"
	previousFile = "previous.db"

	defaultTransferRetries = 5
	defaultTransferBackoff = time.Second
)

var generationFiles = [2]string{currentFile, previousFile}

// GenerationManager owns the two generation files and their durable
// copies. One manager-level lock guards rotation and store handles; the
// per-store lock inside repository.Store serializes builds and queries
// against each file.
type GenerationManager struct {
	mu      sync.Mutex
	dataDir string
	remote  ObjectStore
	stores  [2]*repository.Store
	// exists caches remote existence per generation for this run, so a
	// missing backup is not re-probed every cycle. Reset on rotation.
	exists  [2]bool
	retries uint64
	backoff time.Duration
	logger  logger.Logger
	closed  bool
}

// ManagerOption applies a configuration option to the GenerationManager.
type ManagerOption func(*GenerationManager)

// WithTransferRetries sets how many times uploads and downloads are
// retried after the first attempt.
func WithTransferRetries(n uint64) ManagerOption {
	return func(m *GenerationManager) {
		m.retries = n
	}
}

// WithTransferBackoff sets the pause between transfer retries.
func WithTransferBackoff(d time.Duration) ManagerOption {
	return func(m *GenerationManager) {
		if d > 0 {
			m.backoff = d
		}
	}
}

// WithManagerLogger sets a custom logger for the manager.
func WithManagerLogger(l logger.Logger) ManagerOption {
	return func(m *GenerationManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager over dataDir. Call Restore before first
// use to pull any durable copies and open the generation files.
func NewManager(dataDir string, remote ObjectStore, opts ...ManagerOption) (*GenerationManager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	m := &GenerationManager{
		dataDir: dataDir,
		remote:  remote,
		retries: defaultTransferRetries,
		backoff: defaultTransferBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *GenerationManager) path(gen int) string {
	return filepath.Join(m.dataDir, generationFiles[gen])
}

func archiveName(eventID int64) string {
	return fmt.Sprintf("event-%d.db", eventID)
}

// Restore pulls generation files absent locally from the object store,
// then opens both generations. A remote miss means no prior data and is
// not an error; transfer failures degrade to empty local files.
func (m *GenerationManager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	for gen := range generationFiles {
		path := m.path(gen)
		if _, err := os.Stat(path); err == nil {
			m.exists[gen] = true
		} else {
			switch derr := m.download(ctx, generationFiles[gen], path); {
			case derr == nil:
				m.exists[gen] = true
				metrics.RecordStoreDownload()
			case errors.Is(derr, ErrNotFound):
				m.exists[gen] = false
			default:
				m.exists[gen] = false
				metrics.RecordStoreDownloadError()
				m.log().Warn(ctx, "generation restore failed; starting empty",
					logger.String("file", generationFiles[gen]),
					logger.Error(derr),
				)
			}
		}

		store, err := repository.Open(path)
		if err != nil {
			return fmt.Errorf("opening generation %s: %w", generationFiles[gen], err)
		}
		m.stores[gen] = store
	}
	return nil
}

// Close releases both generation stores.
func (m *GenerationManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var errs []error
	for gen, s := range m.stores {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		m.stores[gen] = nil
	}
	return errors.Join(errs...)
}

// Current returns the current-generation store for building.
func (m *GenerationManager) Current() *repository.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[genCurrent]
}

// RotateIfNewEvent retires the current generation when a new event id is
// observed: the old previous generation's durable copy is archived keyed
// by its event id, current demotes to previous, and a fresh current file
// is prepared for the new event. A same-event call is a no-op.
func (m *GenerationManager) RotateIfNewEvent(ctx context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.stores[genCurrent] == nil {
		return fmt.Errorf("rotate: manager not restored")
	}

	info, ok, err := m.stores[genCurrent].Info(ctx)
	if err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if ok && info.EventID == eventID {
		return nil
	}
	if !ok {
		// Fresh file, nothing to retire.
		return m.stores[genCurrent].Prepare(ctx, eventID)
	}

	log := m.log()

	// Archive the durable copy of the outgoing previous generation. Best
	// effort: the local demotion below never depends on it.
	if prevInfo, prevOK, perr := m.stores[genPrevious].Info(ctx); perr == nil && prevOK && prevInfo.EventID != eventID {
		if m.exists[genPrevious] {
			if rerr := m.remote.Rename(ctx, previousFile, archiveName(prevInfo.EventID)); rerr != nil {
				log.Warn(ctx, "archiving previous generation failed",
					logger.Int64("event_id", prevInfo.EventID),
					logger.Error(rerr),
				)
			}
		}
	}

	// Demote on disk: previous is discarded, current becomes previous,
	// and a fresh current is created for the new event.
	if err := m.stores[genPrevious].Close(); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if err := m.stores[genCurrent].Close(); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if err := os.Remove(m.path(genPrevious)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate: %w", err)
	}
	if err := os.Rename(m.path(genCurrent), m.path(genPrevious)); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}

	// Mirror the demotion remotely so a cold restart restores the same
	// pair. Best effort as well.
	if m.exists[genCurrent] {
		if rerr := m.remote.Rename(ctx, currentFile, previousFile); rerr != nil {
			log.Warn(ctx, "demoting durable current copy failed", logger.Error(rerr))
			m.exists[genPrevious] = false
		} else {
			m.exists[genPrevious] = true
		}
	} else {
		m.exists[genPrevious] = false
	}
	m.exists[genCurrent] = false

	for gen := range generationFiles {
		store, err := repository.Open(m.path(gen))
		if err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		m.stores[gen] = store
	}
	if err := m.stores[genCurrent].Prepare(ctx, eventID); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}

	metrics.RecordGenerationRotation()
	log.Info(ctx, "generations rotated",
		logger.Int64("retired_event_id", info.EventID),
		logger.Int64("event_id", eventID),
	)
	return nil
}

// Persist uploads the current generation to durable storage. Failures
// after all retries are logged only; the local file stays authoritative
// and the next cycle tries again.
func (m *GenerationManager) Persist(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.stores[genCurrent] == nil {
		return
	}

	err := retry.Do(ctx, retry.WithMaxRetries(m.retries, retry.NewConstant(m.backoff)), func(ctx context.Context) error {
		if uerr := m.remote.Upload(ctx, m.path(genCurrent), currentFile); uerr != nil {
			return retry.RetryableError(uerr)
		}
		return nil
	})
	if err != nil {
		metrics.RecordStoreUploadError()
		m.log().Warn(ctx, "persisting current generation failed; local file stays authoritative",
			logger.Error(err),
		)
		return
	}

	m.exists[genCurrent] = true
	metrics.RecordStoreUpload()
}

func (m *GenerationManager) download(ctx context.Context, remoteName, localPath string) error {
	return retry.Do(ctx, retry.WithMaxRetries(m.retries, retry.NewConstant(m.backoff)), func(ctx context.Context) error {
		err := m.remote.Download(ctx, remoteName, localPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// CrewSearch is one crew lookup answered by both generations.
type CrewSearch struct {
	Current  []model.Crew
	Previous []model.Crew
	Infos    [2]*model.StoreInfo // nil when the generation has no metadata yet
}

// PlayerSearch is one player lookup answered by both generations.
type PlayerSearch struct {
	Current  []model.Player
	Previous []model.Player
	Infos    [2]*model.StoreInfo
}

// SearchCrews answers a crew query from both generations independently,
// so callers can use previous-event data explicitly or fall back to it
// while the current generation is still empty.
func (m *GenerationManager) SearchCrews(ctx context.Context, t repository.Term) (CrewSearch, error) {
	stores, err := m.liveStores()
	if err != nil {
		return CrewSearch{}, err
	}

	var res CrewSearch
	res.Infos, err = m.infos(ctx, stores)
	if err != nil {
		return CrewSearch{}, err
	}
	if res.Current, err = stores[genCurrent].SearchCrews(ctx, t); err != nil {
		return CrewSearch{}, err
	}
	if res.Previous, err = stores[genPrevious].SearchCrews(ctx, t); err != nil {
		return CrewSearch{}, err
	}
	return res, nil
}

// SearchPlayers answers a player query from both generations.
func (m *GenerationManager) SearchPlayers(ctx context.Context, t repository.Term) (PlayerSearch, error) {
	stores, err := m.liveStores()
	if err != nil {
		return PlayerSearch{}, err
	}

	var res PlayerSearch
	res.Infos, err = m.infos(ctx, stores)
	if err != nil {
		return PlayerSearch{}, err
	}
	if res.Current, err = stores[genCurrent].SearchPlayers(ctx, t); err != nil {
		return PlayerSearch{}, err
	}
	if res.Previous, err = stores[genPrevious].SearchPlayers(ctx, t); err != nil {
		return PlayerSearch{}, err
	}
	return res, nil
}

// Infos reports both generations' metadata; a nil entry means that
// generation has never been built.
func (m *GenerationManager) Infos(ctx context.Context) ([2]*model.StoreInfo, error) {
	stores, err := m.liveStores()
	if err != nil {
		return [2]*model.StoreInfo{}, err
	}
	return m.infos(ctx, stores)
}

func (m *GenerationManager) liveStores() ([2]*repository.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return [2]*repository.Store{}, ErrManagerClosed
	}
	if m.stores[genCurrent] == nil || m.stores[genPrevious] == nil {
		return [2]*repository.Store{}, fmt.Errorf("generation manager not restored")
	}
	return m.stores, nil
}

func (m *GenerationManager) infos(ctx context.Context, stores [2]*repository.Store) ([2]*model.StoreInfo, error) {
	var out [2]*model.StoreInfo
	for gen, s := range stores {
		info, ok, err := s.Info(ctx)
		if err != nil {
			return out, fmt.Errorf("reading generation %d info: %w", gen, err)
		}
		if ok {
			out[gen] = &info
		}
	}
	return out, nil
}

func (m *GenerationManager) log() logger.Logger {
	if m.logger != nil {
		return m.logger
	}
	return logger.Get().Named("generations")
}
