package source

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/motionmatch/internal/errs"
)

// DirectorySource lists video files under a directory that match any of a set
// of glob patterns. Patterns match the base name (e.g. "*.mp4", "clip_??.mov").
type DirectorySource struct {
	dir       string
	patterns  []string
	recursive bool

	once  sync.Once
	items []VideoItem
	err   error
}

// NewDirectorySource validates the patterns and returns a source over dir.
// Bad patterns fail with KindInvalidParameter; a missing directory with
// KindNoVideosFound.
func NewDirectorySource(dir string, patterns []string, recursive bool) (*DirectorySource, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errs.New(errs.KindInvalidParameter, "directory is required")
	}
	if len(patterns) == 0 {
		return nil, errs.New(errs.KindInvalidParameter, "at least one file pattern is required")
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" || strings.ContainsRune(p, filepath.Separator) {
			return nil, errs.Newf(errs.KindInvalidParameter, "invalid file pattern %q", p).WithDetail("pattern", p)
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, errs.Wrap(errs.KindInvalidParameter, "invalid file pattern "+p, err).WithDetail("pattern", p)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidParameter, "invalid directory", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Newf(errs.KindNoVideosFound, "directory not found: %s", abs).WithDetail("path", abs)
		}
		return nil, errs.Wrap(errs.KindInvalidParameter, "cannot read directory", err)
	}
	if !st.IsDir() {
		return nil, errs.Newf(errs.KindInvalidParameter, "%s is not a directory", abs)
	}

	return &DirectorySource{dir: abs, patterns: patterns, recursive: recursive}, nil
}

// GetSourceID returns "dir:" plus the absolute directory.
func (s *DirectorySource) GetSourceID() string {
	return "dir:" + s.dir
}

// FetchBatch walks the directory once and pages through the sorted matches.
func (s *DirectorySource) FetchBatch(ctx context.Context, cursor string, limit int) ([]VideoItem, string, error) {
	s.once.Do(func() {
		s.items, s.err = s.scan(ctx)
	})
	if s.err != nil {
		return nil, "", s.err
	}
	return page(s.items, cursor, limit)
}

func (s *DirectorySource) scan(ctx context.Context) ([]VideoItem, error) {
	var items []VideoItem
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.dir && (!s.recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.matches(d.Name()) {
			return nil
		}
		items = append(items, VideoItem{Path: path})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindOf(ctx.Err()), "directory scan interrupted", err)
		}
		return nil, errs.Wrap(errs.KindInvalidParameter, "failed to scan directory", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func (s *DirectorySource) matches(name string) bool {
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		// Case-insensitive extension match so *.mp4 also picks up CLIP.MP4.
		if ok, _ := filepath.Match(strings.ToLower(p), strings.ToLower(name)); ok {
			return true
		}
	}
	return false
}
