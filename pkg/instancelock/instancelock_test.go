//go:build unix

package instancelock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "spotmm.lock")

	l, err := Acquire(path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))

	// flock 按打开的文件描述符区分，同进程第二次打开也会冲突
	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	l2, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l2.Path())
	require.NoError(t, l2.Release())
}

func TestAcquireRequiresPath(t *testing.T) {
	_, err := Acquire(" ")
	require.Error(t, err)
}
