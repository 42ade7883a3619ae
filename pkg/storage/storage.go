// Package storage places validated upload bytes in a durable location and
// hands back the public relative path recorded on the report row.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// PublicPrefix is the path prefix reports are served under; stored relative
// paths always start with it so the recorded file_path doubles as the URL
// path.
const PublicPrefix = "uploads"

// Store is the storage adapter contract. Save must be all-or-nothing: once
// it returns nil the file is readable via Open at the returned path, and on
// failure no partial artifact remains.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader, size int64) (relPath string, err error)
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)
	Remove(ctx context.Context, relPath string) error
}

// WriteError wraps an underlying write failure (disk full, permission,
// network) so callers can report a generic storage error without leaking
// backend detail.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write failed for %s: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func relToName(relPath string) string {
	return strings.TrimPrefix(relPath, PublicPrefix+"/")
}
