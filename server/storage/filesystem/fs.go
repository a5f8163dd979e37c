package filesystem

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/storage"
)

// Type identifies this storage engine in logs
const Type = "FILESYSTEM"

// FileStorage implements storage.FileIO on the local filesystem
type FileStorage struct{}

var _ storage.FileIO = (*FileStorage)(nil)

// NewFileStorage creates a new filesystem storage
func NewFileStorage() *FileStorage {
	return &FileStorage{}
}

// GetStorageType returns the storage type identifier
func (mfs *FileStorage) GetStorageType() string {
	return Type
}

func localPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "file://")
	if !filepath.IsAbs(p) {
		return "", errors.New(storage.ErrInvalidPath, "path is not absolute", nil).AddContext("path", p)
	}
	return filepath.Clean(p), nil
}

func (mfs *FileStorage) Read(_ context.Context, path string) ([]byte, error) {
	p, err := localPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(storage.ErrNotFound, "file does not exist", err).AddContext("path", p)
		}
		return nil, errors.New(storage.ErrReadFailed, "failed to read file", err).AddContext("path", p)
	}
	return data, nil
}

// Write replaces path atomically through a temp file and rename
func (mfs *FileStorage) Write(_ context.Context, path string, data []byte) error {
	p, err := localPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to create directory", err).AddContext("path", p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to create temp file", err).AddContext("path", p)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(storage.ErrWriteFailed, "failed to write temp file", err).AddContext("path", p)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.New(storage.ErrWriteFailed, "failed to sync temp file", err).AddContext("path", p)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to close temp file", err).AddContext("path", p)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to rename temp file", err).AddContext("path", p)
	}
	return nil
}

// WriteExclusive publishes the file with a hard link from a temp file, so the
// name appears only once the content is complete and at most one writer wins.
func (mfs *FileStorage) WriteExclusive(_ context.Context, path string, data []byte) error {
	p, err := localPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to create directory", err).AddContext("path", p)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to create temp file", err).AddContext("path", p)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.New(storage.ErrWriteFailed, "failed to write file", err).AddContext("path", p)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to close file", err).AddContext("path", p)
	}

	if err := os.Link(tmp.Name(), p); err != nil {
		if os.IsExist(err) {
			return errors.New(storage.ErrAlreadyExists, "file already exists", err).AddContext("path", p)
		}
		return errors.New(storage.ErrWriteFailed, "failed to publish file", err).AddContext("path", p)
	}
	return nil
}

func (mfs *FileStorage) Exists(_ context.Context, path string) (bool, error) {
	p, err := localPath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.New(storage.ErrReadFailed, "failed to stat file", err).AddContext("path", p)
	}
	return true, nil
}

// Delete removes a file or a directory tree; missing paths are not an error
func (mfs *FileStorage) Delete(_ context.Context, path string) error {
	p, err := localPath(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to delete", err).AddContext("path", p)
	}
	return nil
}

func (mfs *FileStorage) List(_ context.Context, dir string) ([]string, error) {
	p, err := localPath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		// a missing directory and a regular file both have no children
		if os.IsNotExist(err) || stderrors.Is(err, syscall.ENOTDIR) {
			return nil, nil
		}
		return nil, errors.New(storage.ErrReadFailed, "failed to list directory", err).AddContext("path", p)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
