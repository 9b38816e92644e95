package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	lm := NewLifecycleManager(daemon)
	assert.Equal(t, daemon, lm.daemon)
	assert.Equal(t, filepath.Join(daemon.GetConfig().DataDir, "seance.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	lm := NewLifecycleManager(daemon)
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	assert.False(t, lm.IsRunning())

	// Stopping twice tolerates the missing file
	require.NoError(t, lm.Stop())
}

func TestLifecycleManagerCreatesDataDir(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	daemon.config.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	lm := NewLifecycleManager(daemon)

	require.NoError(t, lm.Start())
	defer lm.Stop()
	assert.FileExists(t, filepath.Join(daemon.config.DataDir, PIDFileName))
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(dir, "missing.pid"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("trailing newline", func(t *testing.T) {
		path := filepath.Join(dir, "newline.pid")
		require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))

		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, 4242, pid)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pid")
		require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))

		_, err := ReadPID(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid PID file")
	})
}

func TestProcessAlive(t *testing.T) {
	dir := t.TempDir()

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0644))
	assert.True(t, ProcessAlive(self))

	zero := filepath.Join(dir, "zero.pid")
	require.NoError(t, os.WriteFile(zero, []byte("0"), 0644))
	assert.False(t, ProcessAlive(zero))

	assert.False(t, ProcessAlive(filepath.Join(dir, "missing.pid")))
}
