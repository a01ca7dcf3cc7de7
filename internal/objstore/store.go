// Package objstore downloads and lists snapshot archives. S3 talks to the
// object store through the AWS SDK; CLI shells out to the aws binary.
package objstore

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Size   int64
	Blake3 string
}

type Object struct {
	URI          string
	Size         int64
	LastModified time.Time
}

type Store interface {
	// Check verifies the store is usable before any download is attempted.
	Check(ctx context.Context, uri string) error
	Download(ctx context.Context, uri, localPath string) (*ObjectInfo, error)
}

type Lister interface {
	List(ctx context.Context, prefixURI string) ([]Object, error)
}
