// Package staging owns the on-disk holding area for upload bytes in flight
// between the multipart receive and the push to the remote video service.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	filePrefix = "upload-"
	fileSuffix = ".staging"
)

// Manager stages upload bytes under a single directory with unique names.
// Staged files never outlive their request except across a crash; Sweep
// reclaims those stragglers once they age past a grace period.
type Manager struct {
	dir string
}

// Staged describes one staged artifact on disk.
type Staged struct {
	ID   string
	Path string
	Size int64
}

// NewManager creates the staging directory if needed. An empty dir places the
// staging area under the system temp directory.
func NewManager(dir string) (*Manager, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = filepath.Join(os.TempDir(), "mediarelay-staging")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory %s: %w", trimmed, err)
	}
	return &Manager{dir: trimmed}, nil
}

// Dir exposes the staging directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Stage copies r into a uniquely named staging file. The file is removed on
// every failure path: copy errors, a byte count over maxBytes, or an empty
// body. A maxBytes of zero or less disables the size gate.
func (m *Manager) Stage(r io.Reader, maxBytes int64) (*Staged, error) {
	id := uuid.NewString()
	path := filepath.Join(m.dir, filePrefix+id+fileSuffix)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}

	reader := r
	if maxBytes > 0 {
		// One byte past the limit distinguishes "at the cap" from "over it".
		reader = io.LimitReader(r, maxBytes+1)
	}

	size, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if maxBytes > 0 && size > maxBytes {
		_ = os.Remove(path)
		return nil, ErrTooLarge
	}
	if size == 0 {
		_ = os.Remove(path)
		return nil, ErrEmpty
	}

	return &Staged{ID: id, Path: path, Size: size}, nil
}

// Open returns the staged bytes for reading.
func (m *Manager) Open(s *Staged) (*os.File, error) {
	if s == nil || s.Path == "" {
		return nil, errors.New("staged file unavailable")
	}
	return os.Open(s.Path)
}

// Remove deletes a staged file. Removing an already-deleted file is not an
// error, so callers can defer Remove unconditionally.
func (m *Manager) Remove(s *Staged) error {
	if s == nil || s.Path == "" {
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	s.Path = ""
	return nil
}

// Sweep removes staging files whose modification time is older than the
// grace period and reports how many were reclaimed. Files that do not carry
// the staging naming pattern are never touched.
func (m *Manager) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var failures []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			failures = append(failures, fmt.Sprintf("stat %s: %v", name, err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			failures = append(failures, fmt.Sprintf("remove %s: %v", name, err))
			continue
		}
		removed++
	}

	if len(failures) > 0 {
		return removed, errors.New(strings.Join(failures, "; "))
	}
	return removed, nil
}

// Writable probes whether the staging directory currently accepts new files.
func (m *Manager) Writable() error {
	file, err := os.CreateTemp(m.dir, "probe-*")
	if err != nil {
		return fmt.Errorf("staging directory not writable: %w", err)
	}
	name := file.Name()
	_ = file.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("staging directory cleanup failed: %w", err)
	}
	return nil
}

var (
	// ErrEmpty reports a staged body that carried no bytes.
	ErrEmpty = errors.New("uploaded file is empty")

	// ErrTooLarge reports a staged body over the configured ceiling.
	ErrTooLarge = errors.New("uploaded file exceeds the size limit")
)
