package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
)

// Local writes uploads to a directory on disk. The base directory is
// injected at construction, never read from the environment here.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = PublicPrefix
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Local{baseDir: baseDir}, nil
}

// BaseDir returns the directory uploads are written under.
func (l *Local) BaseDir() string { return l.baseDir }

func (l *Local) fullPath(name string) string {
	return filepath.Join(l.baseDir, filepath.Base(name))
}

// Save streams r into baseDir/name. A failed or short write removes the
// partial file before returning.
func (l *Local) Save(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	full := l.fullPath(name)
	f, err := os.Create(full)
	if err != nil {
		return "", &WriteError{Name: name, Err: err}
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && written != size {
		err = io.ErrShortWrite
	}
	if err != nil {
		_ = os.Remove(full)
		return "", &WriteError{Name: name, Err: err}
	}
	return path.Join(PublicPrefix, filepath.Base(name)), nil
}

func (l *Local) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	return os.Open(l.fullPath(relToName(relPath)))
}

func (l *Local) Remove(ctx context.Context, relPath string) error {
	return os.Remove(l.fullPath(relToName(relPath)))
}
