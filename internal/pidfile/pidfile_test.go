package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "workbench.pid")

	p, err := Acquire(path)
	require.NoError(t, err)
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// Re-acquiring our own file is allowed.
	_, err = Acquire(path)
	require.NoError(t, err)

	require.NoError(t, p.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbench.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

	_, err := Acquire(path)
	assert.ErrorIs(t, err, ErrRunning)
}

func TestAcquireTakesOverStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbench.pid")
	require.NoError(t, os.WriteFile(path, []byte("99999999"), 0644))

	p, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, p.Path())
}

func TestReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbench.pid")
	p, err := Acquire(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("42"), 0644))
	require.NoError(t, p.Release())
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbench.pid")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))
	_, err := Read(path)
	assert.Error(t, err)
}
