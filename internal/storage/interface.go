// Package storage archives uploaded video originals in object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

var contentTypes = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/x-m4v",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
}

// ContentType returns the MIME type for a video format.
func ContentType(format string) string {
	if ct, ok := contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// VideoKey builds the object key for a video by content fingerprint:
// <prefix>/videos/<fp[:2]>/<fp>.<format>. Identical uploads share a key.
func VideoKey(prefix, fingerprint, format string) string {
	shard := fingerprint
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(strings.Trim(prefix, "/"), "videos", shard, fmt.Sprintf("%s.%s", fingerprint, strings.ToLower(format)))
}
