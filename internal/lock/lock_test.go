package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl := NewFileLock(lockPath)
	require.NoError(t, fl.TryLock())
	defer func() { _ = fl.Unlock() }()

	pid, err := ReadPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestFileLock_DoubleLockRejected(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	defer func() { _ = fl1.Unlock() }()

	fl2 := NewFileLock(lockPath)
	err := fl2.TryLock()
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid")
}

func TestFileLock_UnlockReleases(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	require.NoError(t, fl1.Unlock())
	assert.NoFileExists(t, lockPath)

	fl2 := NewFileLock(lockPath)
	require.NoError(t, fl2.TryLock())
	require.NoError(t, fl2.Unlock())
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "daemon.lock"))
	assert.NoError(t, fl.Unlock())
}

func TestFileLock_MissingDir(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "missing", "daemon.lock"))
	assert.ErrorContains(t, fl.TryLock(), "open lock file")
}

func TestReadPID_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0600))

	_, err := ReadPID(path)
	assert.ErrorContains(t, err, "parse pid")
}
