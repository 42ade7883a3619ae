// Package intake validates incoming report uploads before anything touches
// storage and derives collision-resistant stored names.
package intake

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSize caps uploads at 10 MiB unless configured otherwise.
const DefaultMaxSize = 10 << 20

// allowedExts mirrors the document formats the service accepts: PDFs,
// common image formats, and DICOM.
var allowedExts = map[string]struct{}{
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".dcm":  {},
}

type UnsupportedTypeError struct {
	Ext string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q, only PDF, PNG, JPG, JPEG and DICOM files are allowed", e.Ext)
}

type FileTooLargeError struct {
	Size int64
	Max  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d exceeds the %d byte limit", e.Size, e.Max)
}

// Filter validates uploads against the extension whitelist and a size cap.
type Filter struct {
	maxSize int64
}

func NewFilter(maxSize int64) *Filter {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Filter{maxSize: maxSize}
}

func (f *Filter) MaxSize() int64 { return f.maxSize }

// Validate checks extension (case-insensitive) first, then size. It has no
// side effects; placement is the storage adapter's job.
func (f *Filter) Validate(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExts[ext]; !ok {
		return &UnsupportedTypeError{Ext: ext}
	}
	if size > f.maxSize {
		return &FileTooLargeError{Size: size, Max: f.maxSize}
	}
	return nil
}

// StoredName derives the artifact name: upload time in milliseconds, a short
// random suffix, and the original name with whitespace collapsed to
// underscores. The random suffix keeps two same-named uploads in the same
// millisecond from colliding.
func StoredName(original string) string {
	safe := strings.Join(strings.Fields(filepath.Base(original)), "_")
	if safe == "" || safe == "." {
		safe = "report"
	}
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), suffix, safe)
}
