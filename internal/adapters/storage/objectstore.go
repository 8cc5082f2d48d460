// Package storage owns the two-generation store lifecycle: durable
// backup/restore through an object-storage collaborator, rotation on
// event change, and the query surface spanning both generations.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ObjectStore is the durable backup collaborator. It is best-effort
// storage, never a transaction participant: callers tolerate every
// failure except programming errors.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, remoteName string) error
	// Download fetches a remote object into localPath. A missing remote
	// object is reported as ErrNotFound.
	Download(ctx context.Context, remoteName, localPath string) error
	Rename(ctx context.Context, remoteName, newName string) error
}

// DirStore is a filesystem-backed ObjectStore used for local runs and
// tests; production deployments plug in an external collaborator behind
// the same interface.
type DirStore struct {
	root string
}

// NewDirStore creates the backing directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating object store dir %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

func (d *DirStore) Upload(_ context.Context, localPath, remoteName string) error {
	if err := copyFile(localPath, filepath.Join(d.root, remoteName)); err != nil {
		return fmt.Errorf("uploading %s: %w", remoteName, err)
	}
	return nil
}

func (d *DirStore) Download(_ context.Context, remoteName, localPath string) error {
	src := filepath.Join(d.root, remoteName)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, remoteName)
	}
	if err := copyFile(src, localPath); err != nil {
		return fmt.Errorf("downloading %s: %w", remoteName, err)
	}
	return nil
}

func (d *DirStore) Rename(_ context.Context, remoteName, newName string) error {
	src := filepath.Join(d.root, remoteName)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, remoteName)
	}
	if err := os.Rename(src, filepath.Join(d.root, newName)); err != nil {
		return fmt.Errorf("renaming %s: %w", remoteName, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
