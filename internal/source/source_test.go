package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/errs"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func paths(items []VideoItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = filepath.Base(it.Path)
	}
	return out
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.mp4"))
	touch(t, filepath.Join(dir, "a.MOV"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "nested", "c.mp4"))
	touch(t, filepath.Join(dir, ".hidden", "d.mp4"))

	tests := []struct {
		name      string
		patterns  []string
		recursive bool
		want      []string
	}{
		{"flat", []string{"*.mp4"}, false, []string{"b.mp4"}},
		{"recursive", []string{"*.mp4"}, true, []string{"b.mp4", "c.mp4"}},
		{"multiple patterns case-insensitive", []string{"*.mp4", "*.mov"}, false, []string{"a.MOV", "b.mp4"}},
		{"no match", []string{"*.mkv"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewDirectorySource(dir, tt.patterns, tt.recursive)
			require.NoError(t, err)
			items, err := Collect(context.Background(), src, 1)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, items)
				return
			}
			assert.Equal(t, tt.want, paths(items))
		})
	}
}

func TestDirectorySource_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		dir      string
		patterns []string
		kind     errs.Kind
	}{
		{"malformed pattern", dir, []string{"[a-"}, errs.KindInvalidParameter},
		{"pattern with separator", dir, []string{"sub/*.mp4"}, errs.KindInvalidParameter},
		{"no patterns", dir, nil, errs.KindInvalidParameter},
		{"empty dir", "", []string{"*.mp4"}, errs.KindInvalidParameter},
		{"missing dir", filepath.Join(dir, "nope"), []string{"*.mp4"}, errs.KindNoVideosFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectorySource(tt.dir, tt.patterns, false)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestManifestSource(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(manifest, []byte(`{"video_id":"clip-1","path":"clips/one.mp4","title":"One","tags":["a"]}
# comment

{"path":"/abs/two.mkv"}
`), 0o644))

	items, err := Collect(context.Background(), NewManifestSource(manifest), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "clip-1", items[0].VideoID)
	assert.Equal(t, filepath.Join(dir, "clips", "one.mp4"), items[0].Path)
	assert.Equal(t, []string{"a"}, items[0].Tags)
	assert.Equal(t, "/abs/two.mkv", items[1].Path)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte(`{"video_id":"x"}`), 0o644))
	_, err = Collect(context.Background(), NewManifestSource(bad), 10)
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	items := []VideoItem{{Path: "1"}, {Path: "2"}, {Path: "3"}}

	got, next, err := page(items, "", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2", next)

	got, next, err = page(items, next, 2)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Empty(t, next)

	_, _, err = page(items, "abc", 2)
	assert.Equal(t, errs.KindInvalidParameter, errs.KindOf(err))
}
