package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ManifestFileName is the conventional name of a JSONL video manifest.
const ManifestFileName = "manifest.jsonl"

// ManifestEntry is one line of a manifest.
type ManifestEntry struct {
	VideoID string   `json:"video_id"`
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
}

// ManifestSource reads explicit video submissions from a JSONL manifest.
// Relative paths resolve against the manifest's directory.
type ManifestSource struct {
	path string

	once  sync.Once
	items []VideoItem
	err   error
}

// NewManifestSource creates a source over a manifest file.
func NewManifestSource(path string) *ManifestSource {
	return &ManifestSource{path: path}
}

// GetSourceID returns "manifest:" plus the manifest path.
func (s *ManifestSource) GetSourceID() string {
	return "manifest:" + s.path
}

// FetchBatch loads the manifest once and pages through it.
func (s *ManifestSource) FetchBatch(ctx context.Context, cursor string, limit int) ([]VideoItem, string, error) {
	s.once.Do(func() {
		s.items, s.err = s.load()
	})
	if s.err != nil {
		return nil, "", s.err
	}
	return page(s.items, cursor, limit)
}

func (s *ManifestSource) load() ([]VideoItem, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	base := filepath.Dir(s.path)
	var items []VideoItem
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var entry ManifestEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("manifest line %d: path is required", line)
		}
		p := entry.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		items = append(items, VideoItem{
			VideoID: entry.VideoID,
			Path:    p,
			Title:   entry.Title,
			Tags:    entry.Tags,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return items, nil
}

// ListSource serves a fixed list of items, e.g. explicit submissions from an API call.
type ListSource struct {
	id    string
	items []VideoItem
}

// NewListSource wraps items.
func NewListSource(id string, items []VideoItem) *ListSource {
	return &ListSource{id: id, items: items}
}

// GetSourceID returns the list's identifier.
func (s *ListSource) GetSourceID() string {
	return s.id
}

// FetchBatch pages through the list.
func (s *ListSource) FetchBatch(ctx context.Context, cursor string, limit int) ([]VideoItem, string, error) {
	return page(s.items, cursor, limit)
}
