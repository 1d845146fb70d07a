package remote_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/config"
	"inkwell/internal/remote"
)

func backends(t *testing.T) map[string]remote.Backend {
	t.Helper()
	fs, err := remote.NewFileSystemBackend("fs", t.TempDir())
	require.NoError(t, err)
	return map[string]remote.Backend{
		"memory":     remote.NewMemoryBackend("mem"),
		"filesystem": fs,
	}
}

func TestBackend_PutGet(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("sealed bundle bytes")

			require.NoError(t, b.Put(ctx, "obj", bytes.NewReader(data), int64(len(data))))

			var out bytes.Buffer
			require.NoError(t, b.Get(ctx, "obj", &out))
			assert.Equal(t, data, out.Bytes())

			ok, err := b.Exists(ctx, "obj")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestBackend_PutReplaces(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, "obj", strings.NewReader("first"), 5))
			require.NoError(t, b.Put(ctx, "obj", strings.NewReader("second"), 6))

			var out bytes.Buffer
			require.NoError(t, b.Get(ctx, "obj", &out))
			assert.Equal(t, "second", out.String())
		})
	}
}

func TestBackend_GetMissing(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := b.Get(ctx, "missing", &bytes.Buffer{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, remote.ErrNotFound))

			ok, err := b.Exists(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBackend_SizeMismatch(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := b.Put(ctx, "obj", strings.NewReader("abc"), 10)
			require.Error(t, err)

			ok, err := b.Exists(ctx, "obj")
			require.NoError(t, err)
			assert.False(t, ok, "a short write must not leave an object behind")
		})
	}
}

func TestBackend_ValidateSetup(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, b.ValidateSetup(context.Background()))
		})
	}
}

func TestFileSystemBackend_RejectsEscapingNames(t *testing.T) {
	b, err := remote.NewFileSystemBackend("fs", t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../outside", "a/b"} {
		err := b.Put(context.Background(), name, strings.NewReader("x"), 1)
		assert.Error(t, err, "name %q", name)
	}
}

func TestFileSystemBackend_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	b, err := remote.NewFileSystemBackend("fs", root)
	require.NoError(t, err)

	require.NoError(t, b.Put(context.Background(), "obj", strings.NewReader("data"), 4))
	_ = b.Put(context.Background(), "bad", strings.NewReader("data"), 99)

	entries, err := os.ReadDir(filepath.Join(root, "objects"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "obj", entries[0].Name())
}

func TestFileSystemBackend_ValidateSetupMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "usb")
	b, err := remote.NewFileSystemBackend("fs", root)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))

	assert.Error(t, b.ValidateSetup(context.Background()))
}

func TestNewBackendFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		b, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "none"})
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("memory", func(t *testing.T) {
		b, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "memory"})
		require.NoError(t, err)
		assert.IsType(t, &remote.MemoryBackend{}, b)
	})

	t.Run("filesystem", func(t *testing.T) {
		b, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "filesystem", FSRoot: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &remote.FileSystemBackend{}, b)
	})

	t.Run("filesystem without root", func(t *testing.T) {
		_, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "filesystem"})
		assert.Error(t, err)
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		_, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "s3"})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := remote.NewBackendFromConfig(ctx, config.RemoteConfig{Type: "ftp"})
		assert.Error(t, err)
	})
}
