package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/motionmatch/internal/config"
)

func TestVideoKey(t *testing.T) {
	assert.Equal(t, "archive/videos/ab/abcdef.mp4", VideoKey("/archive/", "abcdef", "MP4"))
	assert.Equal(t, "videos/a/a.mov", VideoKey("", "a", "mov"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentType("mp4"))
	assert.Equal(t, "video/quicktime", ContentType("MOV"))
	assert.Equal(t, "application/octet-stream", ContentType("bin"))
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := VideoKey("", "ffee00", "mp4")
	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	body := []byte("fake video bytes")
	require.NoError(t, store.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), ContentType("mp4")))

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Contains(t, store.GetURL(key), "videos/ff/ffee00.mp4")

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	err = store.Upload(context.Background(), "../outside.mp4", bytes.NewReader(nil), 0, "video/mp4")
	assert.Error(t, err)
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStorage(&config.StorageConfig{Type: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(&config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://acct.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-west-2.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("http://localhost:9000/bucket/path", false)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", u.String())

	u, err = endpointURL("minio.internal:9000", true)
	require.NoError(t, err)
	assert.Equal(t, "https://minio.internal:9000", u.String())

	u, err = endpointURL("", true)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = endpointURL("http://", false)
	assert.Error(t, err)
}

func TestS3Storage_GetURL(t *testing.T) {
	key := VideoKey("archive", "abcdef", "mp4")
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "path style endpoint",
			cfg:  S3Config{Type: StorageTypeS3Compatible, Endpoint: "localhost:9000", Bucket: "videos"},
			want: "http://localhost:9000/videos/archive/videos/ab/abcdef.mp4",
		},
		{
			name: "public prefix",
			cfg:  S3Config{Type: StorageTypeR2, Endpoint: "acct.r2.cloudflarestorage.com", UseSSL: true, Bucket: "videos", PublicURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com/archive/videos/ab/abcdef.mp4",
		},
		{
			name: "aws virtual host",
			cfg:  S3Config{Type: StorageTypeS3, Bucket: "videos", Region: "eu-west-1"},
			want: "https://videos.s3.eu-west-1.amazonaws.com/archive/videos/ab/abcdef.mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewS3Storage(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.GetURL(key))
		})
	}

	_, err := NewS3Storage(&S3Config{Type: StorageTypeS3})
	assert.Error(t, err)
}
