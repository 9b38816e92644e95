package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backupGlob(dir string) []string {
	files, _ := filepath.Glob(filepath.Join(dir, "seance-*.log*"))
	return files
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "seance.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.FileExists(t, logFile)
	})

	t.Run("creates directory", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "nested", "seance.log")

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer rw.Close()

		assert.DirExists(t, filepath.Dir(logFile))
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "seance.log")
		require.NoError(t, os.WriteFile(logFile, []byte("earlier\n"), 0644))

		rw, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		_, err = rw.Write([]byte("later\n"))
		require.NoError(t, err)
		require.NoError(t, rw.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Equal(t, "earlier\nlater\n", string(content))
	})
}

func TestRotatingWriterRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "seance.log")

	// 0 MB rotates before every write once the file is non-empty
	rw, err := NewRotatingWriter(logFile, 0, 7, false)
	require.NoError(t, err)

	first := []byte(strings.Repeat("a", 200))
	n, err := rw.Write(first)
	require.NoError(t, err)
	assert.Equal(t, len(first), n)

	_, err = rw.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	backups := backupGlob(dir)
	require.Len(t, backups, 1)
	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, string(first), string(old))

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(content))
}

func TestRotatingWriterBackupNames(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "seance.log")

	rw, err := NewRotatingWriter(logFile, 10, 0, false)
	require.NoError(t, err)
	rw.bg.Wait()

	fixed := time.Date(2026, 10, 19, 14, 3, 7, 512*int(time.Millisecond), time.Local)
	rw.now = func() time.Time { return fixed }

	require.NoError(t, rw.Rotate())
	require.NoError(t, rw.Rotate())
	require.NoError(t, rw.Close())

	assert.FileExists(t, filepath.Join(dir, "seance-2026-10-19T14-03-07.512.log"))
	assert.FileExists(t, filepath.Join(dir, "seance-2026-10-19T14-03-07.513.log"))
}

func TestRotatingWriterCompress(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "seance.log")

	rw, err := NewRotatingWriter(logFile, 10, 7, true)
	require.NoError(t, err)

	_, err = rw.Write([]byte("turn completed\n"))
	require.NoError(t, err)
	require.NoError(t, rw.Rotate())
	require.NoError(t, rw.Close())

	backups := backupGlob(dir)
	require.Len(t, backups, 1)
	require.True(t, strings.HasSuffix(backups[0], ".log.gz"), backups[0])

	f, err := os.Open(backups[0])
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "turn completed\n", string(data))
}

func TestRotatingWriterPrune(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "seance.log")

	old := filepath.Join(dir, "seance-"+time.Now().AddDate(0, 0, -10).Format(backupTimeFormat)+".log.gz")
	recent := filepath.Join(dir, "seance-"+time.Now().AddDate(0, 0, -1).Format(backupTimeFormat)+".log")
	unrelated := filepath.Join(dir, "seance.log.bak")
	for _, f := range []string{old, recent, unrelated} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	}

	rw, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, unrelated)
}

func TestRotatingWriterClosed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "seance.log"), 10, 7, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.ErrorIs(t, rw.Rotate(), os.ErrClosed)
	assert.NoError(t, rw.Close())
}

func TestCompressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seance-backup.log")
	require.NoError(t, os.WriteFile(path, []byte("test content"), 0644))

	require.NoError(t, compressFile(path))

	assert.FileExists(t, path+".gz")
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".gz.tmp")

	assert.Error(t, compressFile(path))
}
