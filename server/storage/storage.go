// Package storage is the file IO the catalog uses to read and write table
// metadata files under a warehouse.
package storage

import (
	"context"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
)

// Storage-specific error codes
var (
	ErrNotFound      = errors.MustNewCode("storage.not_found")
	ErrAlreadyExists = errors.MustNewCode("storage.already_exists")
	ErrWriteFailed   = errors.MustNewCode("storage.write_failed")
	ErrReadFailed    = errors.MustNewCode("storage.read_failed")
	ErrInvalidPath   = errors.MustNewCode("storage.invalid_path")
	ErrSetupFailed   = errors.MustNewCode("storage.setup_failed")
)

// FileIO reads and writes whole files addressed by absolute location.
type FileIO interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	// WriteExclusive fails with ErrAlreadyExists if path exists.
	WriteExclusive(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	// List returns the names of the immediate children of dir, none when
	// dir does not exist or is not a directory.
	List(ctx context.Context, dir string) ([]string, error)
}

// IsNotFound reports whether err means the file does not exist
func IsNotFound(err error) bool {
	return errors.HasCode(err, ErrNotFound)
}

// IsAlreadyExists reports whether err means an exclusive write lost
func IsAlreadyExists(err error) bool {
	return errors.HasCode(err, ErrAlreadyExists)
}

// Router dispatches to Object for s3:// locations and to Local otherwise.
// Either side may be nil when the catalog never addresses it.
type Router struct {
	Local  FileIO
	Object FileIO
}

var _ FileIO = (*Router)(nil)

func (r *Router) pick(path string) (FileIO, error) {
	if strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "s3a://") {
		if r.Object == nil {
			return nil, errors.New(ErrInvalidPath, "no object store configured", nil).AddContext("path", path)
		}
		return r.Object, nil
	}
	if r.Local == nil {
		return nil, errors.New(ErrInvalidPath, "no local filesystem configured", nil).AddContext("path", path)
	}
	return r.Local, nil
}

func (r *Router) Read(ctx context.Context, path string) ([]byte, error) {
	fio, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return fio.Read(ctx, path)
}

func (r *Router) Write(ctx context.Context, path string, data []byte) error {
	fio, err := r.pick(path)
	if err != nil {
		return err
	}
	return fio.Write(ctx, path, data)
}

func (r *Router) WriteExclusive(ctx context.Context, path string, data []byte) error {
	fio, err := r.pick(path)
	if err != nil {
		return err
	}
	return fio.WriteExclusive(ctx, path, data)
}

func (r *Router) Exists(ctx context.Context, path string) (bool, error) {
	fio, err := r.pick(path)
	if err != nil {
		return false, err
	}
	return fio.Exists(ctx, path)
}

func (r *Router) Delete(ctx context.Context, path string) error {
	fio, err := r.pick(path)
	if err != nil {
		return err
	}
	return fio.Delete(ctx, path)
}

func (r *Router) List(ctx context.Context, dir string) ([]string, error) {
	fio, err := r.pick(dir)
	if err != nil {
		return nil, err
	}
	return fio.List(ctx, dir)
}
