// SPDX-License-Identifier: MIT

package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "queue-engine.log")

	w, err := NewRotatingWriter(logPath)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, logPath, w.Path())
}

func TestNewRotatingWriterWithOptions(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "queue-engine.log")

	w, err := NewRotatingWriter(logPath, WithMaxSize(1024*1024), WithMaxFiles(3), WithCompression(true))
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, logPath, w.Path())
}

func TestRotatingWriterWrite(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "queue-engine.log")

	w, err := NewRotatingWriter(logPath)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int64(6), w.Size())
}

func TestRotatingWriterRotatesAtMaxSize(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "queue-engine.log")

	w, err := NewRotatingWriter(logPath, WithMaxSize(10))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("more-than-ten-bytes"))
	require.NoError(t, err)

	_, statErr := os.Stat(logPath + ".1")
	assert.NoError(t, statErr)
}

func TestJobLogPathFormatsTimestampAndBasename(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	path := JobLogPath("/var/lib/stentor/logs", ts, "show.mp3")
	assert.Equal(t, "/var/lib/stentor/logs/20260304_050607_show.mp3.log", path)
}

func TestJobLogPathSanitizesBasename(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := JobLogPath("/logs", ts, "weird name!@#.mp3")
	assert.True(t, strings.HasPrefix(filepath.Base(path), "20260101_000000_weird_name"))
}

func TestOpenJobLogCreatesDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "job.log")

	w, err := OpenJobLog(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("started\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "started\n", string(data))
}
