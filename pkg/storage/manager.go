package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PartialSuffix marks files that are still being written
const PartialSuffix = ".part"

// ErrLimitExceeded is returned by WriteAtomic when the body is larger than the limit
var ErrLimitExceeded = errors.New("byte limit exceeded")

// Manager owns one output directory and the set of filenames already present in it
type Manager struct {
	outputDir string
	existing  map[string]bool
	mu        sync.RWMutex
}

// NewManager creates the output directory if needed and seeds the skip set
// from the files already in it.
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		existing:  make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// DayDirectory returns the per-day directory under base, e.g. base/2025-09-30
func DayDirectory(base string, day time.Time) string {
	return filepath.Join(base, day.Format("2006-01-02"))
}

func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasSuffix(name, PartialSuffix) {
			continue
		}
		m.existing[name] = true
	}

	return nil
}

// Has reports whether a file with the given name was present at startup or
// has been marked since.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existing[name]
}

// Mark records name as present
func (m *Manager) Mark(name string) {
	m.mu.Lock()
	m.existing[name] = true
	m.mu.Unlock()
}

// Path returns the absolute destination for name
func (m *Manager) Path(name string) string {
	return filepath.Join(m.outputDir, name)
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// Count returns the number of known files
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.existing)
}

// WriteAtomic copies r into path through a partial file and renames it into
// place. With a positive limit, a body larger than limit aborts the write
// with ErrLimitExceeded. The partial file never survives a failed write.
func WriteAtomic(path string, r io.Reader, limit int64) (int64, error) {
	tempFile := path + PartialSuffix
	out, err := os.Create(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	src := r
	if limit > 0 {
		// one extra byte distinguishes "exactly limit" from "over limit"
		src = io.LimitReader(r, limit+1)
	}

	written, err := io.CopyBuffer(out, src, make([]byte, 8192))
	closeErr := out.Close()

	switch {
	case err != nil:
		os.Remove(tempFile)
		return written, fmt.Errorf("failed to write data: %w", err)
	case closeErr != nil:
		os.Remove(tempFile)
		return written, fmt.Errorf("failed to close file: %w", closeErr)
	case limit > 0 && written > limit:
		os.Remove(tempFile)
		return written, ErrLimitExceeded
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return written, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return written, nil
}
