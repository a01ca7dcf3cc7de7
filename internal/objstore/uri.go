package objstore

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"nlo/internal/opserr"
)

var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

func ParseURI(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("invalid object URI %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("unsupported object URI scheme %q in %s", u.Scheme, uri)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("object URI %s has no bucket", uri)
	}
	return Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

// ResolveSnapshotURI passes through anything that already carries a scheme
// and otherwise joins id onto base.
func ResolveSnapshotURI(id, base string) (string, error) {
	if schemeRe.MatchString(id) {
		return id, nil
	}
	if strings.TrimSpace(base) == "" {
		return "", opserr.Precondition("no snapshot base URI configured; pass a fully qualified URI or set MN_SNAPSHOT_S3_URI")
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimLeft(id, "/"), nil
}

// ArchiveName is the last path segment of a URI without its query.
func ArchiveName(uri string) string {
	last := uri[strings.LastIndex(uri, "/")+1:]
	last, _, _ = strings.Cut(last, "?")
	if last = strings.TrimSpace(last); last != "" {
		return last
	}
	return "snapshot.tar"
}
