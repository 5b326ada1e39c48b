package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContains_absentFileReturnsFalse(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "processed_files.txt"))
	ok, err := s.Contains("deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordThenContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.txt")
	s := Open(path)

	require.NoError(t, s.Record("abc123", Success, "podcast.mp3"))

	ok, err := s.Contains("abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Contains("nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecord_appendOnlyNeverRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.txt")
	s := Open(path)

	require.NoError(t, s.Record("fp1", Success, "a.mp3"))
	require.NoError(t, s.Record("fp2", Failed, "b.mp3"))
	require.NoError(t, s.Record("fp1", Success, "a.mp3")) // duplicate, harmless

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "fp1|")
	assert.Contains(t, lines[1], "fp2|")
}

func TestFingerprint_stableForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0644))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	require.NoError(t, os.WriteFile(b, []byte("different bytes"), 0644))
	fb2, err := Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb2)
}

func TestTail_returnsLastNRecordsOldestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.txt")
	s := Open(path)

	require.NoError(t, s.Record("fp1", Success, "a.mp3"))
	require.NoError(t, s.Record("fp2", Failed, "b.mp3"))
	require.NoError(t, s.Record("fp3", Success, "c.mp3"))

	entries, err := s.Tail(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b.mp3", entries[0].Basename)
	assert.Equal(t, "c.mp3", entries[1].Basename)
	assert.Equal(t, Success, entries[1].Outcome)
}

func TestTail_missingFileReturnsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "processed_files.txt"))
	entries, err := s.Tail(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
