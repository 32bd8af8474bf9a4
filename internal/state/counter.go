// Package state persists the capture file counter across restarts.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/oszuidwest/gunshot-logger/internal/util"
)

// InitialCounter is the counter value used when no valid state exists.
const InitialCounter = 1

// counterState is the on-disk document.
type counterState struct {
	FileCounter int `json:"file_counter"`
}

// CounterStore reads and writes the file counter document. It is safe for concurrent use.
type CounterStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewCounterStore returns a store backed by the JSON document at path.
func NewCounterStore(path string, logger *slog.Logger) *CounterStore {
	return &CounterStore{path: path, logger: logger}
}

// Path returns the document location.
func (s *CounterStore) Path() string {
	return s.path
}

// Load returns the persisted counter. A missing, unreadable, corrupt or
// non-positive document yields InitialCounter.
func (s *CounterStore) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read counter state, starting at 1", "path", s.path, "error", err)
		}
		return InitialCounter
	}

	var st counterState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("counter state is corrupt, starting at 1", "path", s.path, "error", err)
		return InitialCounter
	}
	if st.FileCounter < InitialCounter {
		s.logger.Warn("counter state out of range, starting at 1", "path", s.path, "file_counter", st.FileCounter)
		return InitialCounter
	}
	return st.FileCounter
}

// Save atomically replaces the document with value. The new document is
// written to a temporary file in the same directory and renamed into place,
// so a crash leaves either the old or the new value. Failures are logged at
// debug level and returned; callers decide how loudly to surface them.
func (s *CounterStore) Save(value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(value); err != nil {
		s.logger.Debug("failed to save counter state", "path", s.path, "file_counter", value, "error", err)
		return err
	}
	return nil
}

func (s *CounterStore) save(value int) error {
	data, err := json.Marshal(counterState{FileCounter: value})
	if err != nil {
		return util.WrapError("marshal counter state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create state directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return util.WrapError("create counter temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath) // No-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return util.WrapError("write counter state", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return util.WrapError("sync counter state", err)
	}
	if err := tmp.Close(); err != nil {
		return util.WrapError("close counter state", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return util.WrapError("replace counter state", err)
	}
	return nil
}
