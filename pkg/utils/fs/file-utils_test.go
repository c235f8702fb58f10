package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserAppDataDir(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("layout checked on linux only")
	}
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	dir, err := GetUserAppDataDir("txcache")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "txcache"), dir)

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestEnsureDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(path))
	require.NoError(t, EnsureDir(path))
	assert.DirExists(t, path)
}
