package state

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*CounterStore, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "gunshot_state.json")
	return NewCounterStore(path, slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func TestCounterStore_MissingFileStartsAtOne(t *testing.T) {
	s, logs := newTestStore(t)

	assert.Equal(t, 1, s.Load())
	assert.Empty(t, logs.String())
}

func TestCounterStore_SaveThenLoad(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(7))
	assert.Equal(t, 7, s.Load())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"file_counter": 7}`, string(data))
}

func TestCounterStore_CorruptDocuments(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "garbage", content: "{{not json"},
		{name: "empty", content: ""},
		{name: "missing_key", content: `{"other": 3}`},
		{name: "wrong_type", content: `{"file_counter": "seven"}`},
		{name: "zero", content: `{"file_counter": 0}`},
		{name: "negative", content: `{"file_counter": -4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(tt.content), 0o644))

			assert.Equal(t, InitialCounter, s.Load())
		})
	}
}

func TestCounterStore_SaveLeavesNoTempFiles(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Save(i))
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 5, s.Load())
}

func TestCounterStore_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	s := NewCounterStore(path, slog.New(slog.DiscardHandler))

	require.NoError(t, s.Save(3))
	assert.Equal(t, 3, s.Load())
}

func TestCounterStore_SaveFailsWhenDirectoryIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	var logs bytes.Buffer
	s := NewCounterStore(filepath.Join(blocker, "state.json"),
		slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	assert.Error(t, s.Save(2))
	assert.Contains(t, logs.String(), "failed to save counter state")
	assert.Contains(t, logs.String(), "file_counter=2")
	assert.Equal(t, InitialCounter, s.Load())
}
