package minio

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/storage"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Type identifies this storage engine in logs
const Type = "S3"

const contentTypeJSON = "application/json"

// Options configures the S3 connection
type Options struct {
	// Endpoint is host[:port]; empty selects AWS S3 for Region
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// FileSystem implements storage.FileIO for s3://bucket/key locations
type FileSystem struct {
	client *miniogo.Client
	logger zerolog.Logger
}

var _ storage.FileIO = (*FileSystem)(nil)

// NewS3FileSystem creates a new S3/MinIO filesystem
func NewS3FileSystem(opts Options, logger zerolog.Logger) (*FileSystem, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
		if opts.Region != "" {
			endpoint = "s3." + opts.Region + ".amazonaws.com"
		}
	}

	var creds *credentials.Credentials
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  creds,
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, errors.New(storage.ErrSetupFailed, "failed to create s3 client", err).AddContext("endpoint", endpoint)
	}

	return &FileSystem{
		client: client,
		logger: logger.With().Str("component", "s3-storage").Logger(),
	}, nil
}

// GetStorageType returns the storage type identifier
func (s3fs *FileSystem) GetStorageType() string {
	return Type
}

// splitLocation splits s3://bucket/key into bucket and key
func splitLocation(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "s3" && u.Scheme != "s3a") || u.Host == "" {
		return "", "", errors.New(storage.ErrInvalidPath, "not an s3 location", err).AddContext("path", location)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func isNoSuchKey(err error) bool {
	code := miniogo.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// EnsureBucket creates the bucket of location if it does not exist
func (s3fs *FileSystem) EnsureBucket(ctx context.Context, location string) error {
	bucket, _, err := splitLocation(location)
	if err != nil {
		return err
	}
	exists, err := s3fs.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.New(storage.ErrSetupFailed, "failed to check bucket", err).AddContext("bucket", bucket)
	}
	if exists {
		return nil
	}
	if err := s3fs.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
		return errors.New(storage.ErrSetupFailed, "failed to create bucket", err).AddContext("bucket", bucket)
	}
	s3fs.logger.Info().Str("bucket", bucket).Msg("created warehouse bucket")
	return nil
}

func (s3fs *FileSystem) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := splitLocation(path)
	if err != nil {
		return nil, err
	}
	obj, err := s3fs.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, errors.New(storage.ErrReadFailed, "failed to get object", err).AddContext("path", path)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.New(storage.ErrNotFound, "object does not exist", err).AddContext("path", path)
		}
		return nil, errors.New(storage.ErrReadFailed, "failed to read object", err).AddContext("path", path)
	}
	return data, nil
}

func (s3fs *FileSystem) Write(ctx context.Context, path string, data []byte) error {
	bucket, key, err := splitLocation(path)
	if err != nil {
		return err
	}
	info, err := s3fs.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return errors.New(storage.ErrWriteFailed, "failed to put object", err).AddContext("path", path)
	}
	s3fs.logger.Debug().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("object uploaded")
	return nil
}

// WriteExclusive checks for the object before writing it. The check and the
// put are two requests, so two writers can both pass the check; callers that
// need a strict guarantee use a pointer-swapping catalog on object stores.
func (s3fs *FileSystem) WriteExclusive(ctx context.Context, path string, data []byte) error {
	exists, err := s3fs.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return errors.New(storage.ErrAlreadyExists, "object already exists", nil).AddContext("path", path)
	}
	return s3fs.Write(ctx, path, data)
}

func (s3fs *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := splitLocation(path)
	if err != nil {
		return false, err
	}
	if _, err := s3fs.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.New(storage.ErrReadFailed, "failed to stat object", err).AddContext("path", path)
	}
	return true, nil
}

// Delete removes an object, or every object under path when it is a prefix
func (s3fs *FileSystem) Delete(ctx context.Context, path string) error {
	bucket, key, err := splitLocation(path)
	if err != nil {
		return err
	}

	if err := s3fs.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return errors.New(storage.ErrWriteFailed, "failed to delete object", err).AddContext("path", path)
	}

	prefix := strings.TrimSuffix(key, "/") + "/"
	for obj := range s3fs.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return errors.New(storage.ErrReadFailed, "failed to list objects", obj.Err).AddContext("path", path)
		}
		if err := s3fs.client.RemoveObject(ctx, bucket, obj.Key, miniogo.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return errors.New(storage.ErrWriteFailed, "failed to delete object", err).AddContext("key", obj.Key)
		}
	}
	return nil
}

func (s3fs *FileSystem) List(ctx context.Context, dir string) ([]string, error) {
	bucket, key, err := splitLocation(dir)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if key != "" {
		prefix = strings.TrimSuffix(key, "/") + "/"
	}

	var names []string
	for obj := range s3fs.client.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			if isNoSuchKey(obj.Err) || miniogo.ToErrorResponse(obj.Err).Code == "NoSuchBucket" {
				return nil, nil
			}
			return nil, errors.New(storage.ErrReadFailed, "failed to list objects", obj.Err).AddContext("path", dir)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
