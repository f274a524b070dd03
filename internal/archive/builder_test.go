package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "track.wav"), 4096)
	writeFile(t, filepath.Join(src, "stems", "kick.wav"), 8192)
	require.NoError(t, os.MkdirAll(filepath.Join(src, "artwork"), 0o755))
	return src
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	entries := make(map[string][]byte)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			entries[f.Name] = nil
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		entries[f.Name] = data
	}
	return entries
}

func TestBuildRoundTrip(t *testing.T) {
	src := buildFixture(t)
	dest := filepath.Join(t.TempDir(), "out.zip")

	total, err := DirSize(context.Background(), src)
	require.NoError(t, err)

	b := &Builder{Level: 1}
	require.NoError(t, b.Build(context.Background(), src, dest, total, nil))

	entries := readZip(t, dest)

	// Flattened: entry names are relative to the source dir
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"artwork/", "stems/", "stems/kick.wav", "track.wav"}, names)

	want, err := os.ReadFile(filepath.Join(src, "stems", "kick.wav"))
	require.NoError(t, err)
	assert.Equal(t, want, entries["stems/kick.wav"])
}

func TestBuildProgressMonotone(t *testing.T) {
	src := t.TempDir()
	for i := 0; i < 8; i++ {
		writeFile(t, filepath.Join(src, "f"+string(rune('a'+i))+".bin"), 200_000)
	}
	dest := filepath.Join(t.TempDir(), "out.zip")

	total, err := DirSize(context.Background(), src)
	require.NoError(t, err)

	var seen []float64
	b := &Builder{Level: 0}
	require.NoError(t, b.Build(context.Background(), src, dest, total, func(p float64) {
		seen = append(seen, p)
	}))

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.LessOrEqual(t, seen[len(seen)-1], 100.0)
	assert.Equal(t, 100.0, seen[len(seen)-1])
}

func TestBuildIndeterminateNeverReportsProgress(t *testing.T) {
	src := buildFixture(t)
	dest := filepath.Join(t.TempDir(), "out.zip")

	called := false
	b := &Builder{Level: 1}
	require.NoError(t, b.Build(context.Background(), src, dest, 0, func(float64) {
		called = true
	}))
	assert.False(t, called)

	// The archive itself is still complete
	entries := readZip(t, dest)
	assert.Contains(t, entries, "track.wav")
}

func TestBuildCancelRemovesPartialFile(t *testing.T) {
	src := buildFixture(t)
	dest := filepath.Join(t.TempDir(), "out.zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Builder{Level: 1}
	err := b.Build(ctx, src, dest, 0, nil)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildMissingSourceRemovesPartialFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.zip")

	b := &Builder{Level: 1}
	err := b.Build(context.Background(), filepath.Join(t.TempDir(), "nope"), dest, 0, nil)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildConcurrentSameSource(t *testing.T) {
	src := buildFixture(t)
	destDir := t.TempDir()

	total, err := DirSize(context.Background(), src)
	require.NoError(t, err)

	errs := make(chan error, 2)
	paths := []string{
		filepath.Join(destDir, "one.zip"),
		filepath.Join(destDir, "two.zip"),
	}
	for _, p := range paths {
		go func(dest string) {
			b := &Builder{Level: 1}
			errs <- b.Build(context.Background(), src, dest, total, nil)
		}(p)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	one := readZip(t, paths[0])
	two := readZip(t, paths[1])
	assert.Equal(t, one, two)
}
