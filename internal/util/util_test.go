package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("open file", nil))

	base := errors.New("boom")
	err := WrapError("open file", base)
	assert.EqualError(t, err, "failed to open file: boom")
	assert.ErrorIs(t, err, base)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2*time.Minute + 34*time.Second, "2m 34s"},
		{time.Hour + 23*time.Minute + 10*time.Second, "1h 23m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	assert.Error(t, CheckPathWritable(filepath.Join(blocker, "sub")))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}
