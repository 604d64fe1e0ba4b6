// Package storage defines where per-worker output objects are written. The
// consumer writes through BlobStore; implementations live in the memory,
// local and gcs sub-packages.
package storage

import (
	"context"
	"io"
)

// BlobStore persists whole objects and returns a URI describing where each
// one landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ObjectPath joins a run prefix and an object name with a slash, skipping an
// empty prefix.
func ObjectPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
