package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// localfs returns the same object_key; gdrive returns the real
	// fileId so later reads and deletes can address the object.
	ObjectKey string
	Size      int64
}

// StorageProvider is implemented by artifact backends (localfs, gdrive).
// Finished videos are published through it and streamed back by the
// result endpoint.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
