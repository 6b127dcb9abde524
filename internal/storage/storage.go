package storage

import (
	"context"
	"io"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Opener interface {
	Open(ctx context.Context, objectName string) (io.ReadCloser, error)
}
