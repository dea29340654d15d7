// Package staging persists uploaded documents to request-scoped temporary
// files and removes them again.
package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// ErrIOFailure wraps every error returned by Stage.
var ErrIOFailure = errors.New("staging io failure")

const maxSuffixLen = 64

// StagedFile is an uploaded document persisted on local disk.
type StagedFile struct {
	Path string
	Size int64

	once sync.Once
}

// Stager writes uploads into Dir.
type Stager struct {
	Dir string
	log *slog.Logger
}

// NewStager builds a Stager rooted at dir (os.TempDir when empty).
func NewStager(dir string, logger *slog.Logger) *Stager {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{Dir: dir, log: logger}
}

// Stage copies r into a new file named <uuid>_<filename>. The file is
// created exclusively, so two uploads never share a path even when their
// filenames are identical.
func (s *Stager) Stage(filename string, r io.Reader) (*StagedFile, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrIOFailure)
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create stage dir: %w", ErrIOFailure, err)
	}

	path := filepath.Join(s.Dir, uuid.NewString()+"_"+SanitizeFilename(filename))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIOFailure, path, err)
	}

	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("stage.partial_remove_failed", "path", path, "error", rmErr)
		}
		if copyErr != nil {
			return nil, fmt.Errorf("%w: write %s: %w", ErrIOFailure, path, copyErr)
		}
		return nil, fmt.Errorf("%w: close %s: %w", ErrIOFailure, path, closeErr)
	}

	s.log.Debug("stage.ok", "path", path, "size_bytes", size)
	return &StagedFile{Path: path, Size: size}, nil
}

// Release deletes the staged file. It is safe to call more than once and
// never fails; delete errors are logged.
func (s *Stager) Release(f *StagedFile) {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("stage.release_failed", "path", f.Path, "error", err)
			return
		}
		s.log.Debug("stage.released", "path", f.Path)
	})
}

// SanitizeFilename reduces a caller-supplied name to a safe, short suffix.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
	name = strings.TrimLeft(name, ".")
	if runes := []rune(name); len(runes) > maxSuffixLen {
		ext := []rune(filepath.Ext(name))
		if len(ext) > 16 {
			ext = nil
		}
		name = string(runes[:maxSuffixLen-len(ext)]) + string(ext)
	}
	if name == "" {
		return "upload"
	}
	return name
}
