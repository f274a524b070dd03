package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()

	t.Run("plain relative path resolves under root", func(t *testing.T) {
		got, err := ResolveWithinRoot(root, "beats/summer-pack")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "beats", "summer-pack"), got)
	})

	t.Run("leading slashes are stripped", func(t *testing.T) {
		got, err := ResolveWithinRoot(root, "//beats")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "beats"), got)
	})

	t.Run("traversal is rejected", func(t *testing.T) {
		_, err := ResolveWithinRoot(root, "../etc/passwd")
		assert.ErrorIs(t, err, ErrUnsafePath)

		_, err = ResolveWithinRoot(root, "beats/../../escape")
		assert.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("empty and NUL inputs are rejected", func(t *testing.T) {
		_, err := ResolveWithinRoot(root, "")
		assert.ErrorIs(t, err, ErrUnsafePath)

		_, err = ResolveWithinRoot("", "beats")
		assert.ErrorIs(t, err, ErrUnsafePath)

		_, err = ResolveWithinRoot(root, "be\x00ats")
		assert.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("root itself is not a valid target", func(t *testing.T) {
		_, err := ResolveWithinRoot(root, "/")
		assert.ErrorIs(t, err, ErrUnsafePath)
	})
}

func TestIsSafeFileName(t *testing.T) {
	assert.True(t, IsSafeFileName("pack-7-abc.zip"))
	assert.False(t, IsSafeFileName(""))
	assert.False(t, IsSafeFileName("."))
	assert.False(t, IsSafeFileName(".."))
	assert.False(t, IsSafeFileName("a/b.zip"))
	assert.False(t, IsSafeFileName("a\\b.zip"))
	assert.False(t, IsSafeFileName("a\x00b.zip"))
}

func TestArtifactFileName(t *testing.T) {
	assert.Equal(t, "summer-pack-42-j1.zip", ArtifactFileName("summer-pack", 42, "j1"))
}
