package storage

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Scheme identifies which connector serves a location.
type Scheme string

const (
	SchemeS3    Scheme = "s3"
	SchemeLocal Scheme = "file"
)

// Location is a parsed storage root such as "s3a://udacity-dend/" or "/data/out".
type Location struct {
	// Raw is the string the location was parsed from.
	Raw string
	// Scheme selects the connector.
	Scheme Scheme
	// Bucket is the S3 bucket; empty for local locations.
	Bucket string
	// Root is the local base directory; empty for S3 locations.
	Root string
	// Prefix is the key prefix inside the bucket or root, without slashes at either end.
	Prefix string
}

// ParseLocation parses an object-storage URL. The Hadoop scheme variants
// s3, s3a and s3n all address S3; file:// URLs and bare paths address the
// local filesystem.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("storage: empty location")
	}

	if !strings.Contains(raw, "://") {
		return localLocation(raw, raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("storage: invalid location %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3", "s3a", "s3n":
		if u.Host == "" {
			return Location{}, fmt.Errorf("storage: location %q has no bucket", raw)
		}
		return Location{
			Raw:    raw,
			Scheme: SchemeS3,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	case "file":
		return localLocation(raw, u.Path), nil
	default:
		return Location{}, fmt.Errorf("storage: unsupported scheme %q in %q", u.Scheme, raw)
	}
}

func localLocation(raw, dir string) Location {
	return Location{
		Raw:    raw,
		Scheme: SchemeLocal,
		Root:   filepath.Clean(dir),
	}
}

// IsRemote reports whether the location needs cloud credentials.
func (l Location) IsRemote() bool {
	return l.Scheme == SchemeS3
}

// Key joins elements onto the location prefix, producing an object path.
func (l Location) Key(elem ...string) string {
	parts := append([]string{l.Prefix}, elem...)
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// ConnectorKey identifies the connector a location needs; locations that
// share a bucket or root share one connector.
func (l Location) ConnectorKey() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket
	}
	return "file://" + l.Root
}

// String renders the location as a URL.
func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + path.Join(l.Bucket, l.Prefix)
	}
	return "file://" + filepath.ToSlash(filepath.Join(l.Root, l.Prefix))
}
