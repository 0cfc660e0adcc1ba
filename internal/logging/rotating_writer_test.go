package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, maxSize int64, maxBackups int) (*RotatingFileWriter, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crawl.log")
	w, err := NewRotatingFileWriter(path, maxSize, maxBackups)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	// Deterministic, strictly increasing backup timestamps
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return w, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRotatingWriterAppends(t *testing.T) {
	w, path := newTestWriter(t, 1024, 3)

	for _, line := range []string{"one\n", "two\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Sync())

	assert.Equal(t, "one\ntwo\n", readFile(t, path))
}

func TestRotatingWriterRotatesAndPrunes(t *testing.T) {
	w, path := newTestWriter(t, 10, 2)

	// Each write is 8 bytes, so every write after the first rotates
	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("entry-" + string(rune('a'+i)) + "\n"))
		require.NoError(t, err)
	}

	backups, err := w.backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	// Newest backup holds the entry written right before the current file
	assert.Equal(t, "entry-d\n", readFile(t, backups[1]))
	assert.Equal(t, "entry-e\n", readFile(t, path))

	for _, b := range backups {
		assert.Regexp(t, `^crawl-2026.*\.log$`, filepath.Base(b))
	}
}

func TestRotatingWriterReopensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crawl.log")

	w, err := NewRotatingFileWriter(path, 1024, 1)
	require.NoError(t, err)
	_, _ = w.Write([]byte("first\n"))
	_ = w.Close()

	w, err = NewRotatingFileWriter(path, 1024, 1)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, int64(len("first\n")), w.size, "size restored from the existing file")
}

func TestRotatingWriterClosed(t *testing.T) {
	w, _ := newTestWriter(t, 1024, 1)
	require.NoError(t, w.Close())

	_, err := w.Write([]byte("late"))
	assert.Error(t, err, "write after close")
	assert.NoError(t, w.Close(), "second Close is a no-op")
}
