// Package archive unpacks snapshot archives. Native uses in-process
// decoders; CLI shells out to zstd and tar.
package archive

import (
	"context"
	"strings"

	"nlo/internal/opserr"
)

type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gz"
	Zstd Compression = "zst"
)

// Codec extracts an archive into an existing destination directory.
type Codec interface {
	Extract(ctx context.Context, archivePath, dest string) error
}

// Detect picks the compression from the file name suffix.
func Detect(name string) (Compression, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".zst"):
		return Zstd, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(lower, ".tar"):
		return None, nil
	default:
		return "", &opserr.UnsupportedArchiveError{Name: name}
	}
}
