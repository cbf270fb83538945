// Package probe validates candidate video files before any encoder work:
// container allow-list, size and duration ceilings, and the content fingerprint.
package probe

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/motionmatch/internal/errs"
)

// DurationProber reads a video's duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Info describes a validated video file.
type Info struct {
	Path        string  // absolute path
	Format      string  // lower-case extension without the dot
	Size        int64   // bytes
	Duration    float64 // seconds, 0 when no prober is configured
	Fingerprint string
}

// Options configures a Validator.
type Options struct {
	AllowedFormats     []string
	MaxFileSizeBytes   int64   // 0 disables the check
	MaxDurationSeconds float64 // 0 disables the check
	Prober             DurationProber
}

// Validator checks video files against the configured limits.
type Validator struct {
	formats     map[string]struct{}
	maxSize     int64
	maxDuration float64
	prober      DurationProber
}

// NewValidator creates a Validator.
func NewValidator(opts Options) *Validator {
	formats := make(map[string]struct{}, len(opts.AllowedFormats))
	for _, f := range opts.AllowedFormats {
		formats[strings.TrimPrefix(strings.ToLower(f), ".")] = struct{}{}
	}
	return &Validator{
		formats:     formats,
		maxSize:     opts.MaxFileSizeBytes,
		maxDuration: opts.MaxDurationSeconds,
		prober:      opts.Prober,
	}
}

// AllowedFormats returns the allow-listed container formats, sorted.
func (v *Validator) AllowedFormats() []string {
	out := make([]string, 0, len(v.formats))
	for f := range v.formats {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MaxFileSize returns the size ceiling in bytes, 0 when unlimited.
func (v *Validator) MaxFileSize() int64 {
	return v.maxSize
}

// FormatOf returns the normalized container format for a path.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// CheckFormat rejects names whose extension is not on the allow-list.
func (v *Validator) CheckFormat(name string) error {
	format := FormatOf(name)
	if _, ok := v.formats[format]; !ok {
		return errs.Newf(errs.KindUnsupportedFormat, "unsupported container %q", format).
			WithDetail("path", name)
	}
	return nil
}

// CheckSize rejects sizes above the configured ceiling.
func (v *Validator) CheckSize(size int64) error {
	if v.maxSize > 0 && size > v.maxSize {
		return errs.Newf(errs.KindInvalidParameter, "file size %d exceeds limit %d", size, v.maxSize).
			WithDetail("max_bytes", strconv.FormatInt(v.maxSize, 10))
	}
	return nil
}

// Inspect validates a file on disk and computes its fingerprint.
// Missing files yield KindVideoNotFound, rejected containers or unreadable
// content KindUnsupportedFormat, and limit violations KindInvalidParameter.
func (v *Validator) Inspect(ctx context.Context, path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidParameter, "invalid path", err)
	}

	st, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Newf(errs.KindVideoNotFound, "video file not found: %s", abs).WithDetail("path", abs)
		}
		return nil, errs.Wrap(errs.KindVideoNotFound, "cannot stat video file", err).WithDetail("path", abs)
	}
	if st.IsDir() {
		return nil, errs.Newf(errs.KindInvalidParameter, "%s is a directory", abs)
	}

	if err := v.CheckFormat(abs); err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, errs.New(errs.KindUnsupportedFormat, "empty video file").WithDetail("path", abs)
	}
	if err := v.CheckSize(st.Size()); err != nil {
		return nil, err
	}

	info := &Info{
		Path:   abs,
		Format: FormatOf(abs),
		Size:   st.Size(),
	}

	if v.prober != nil {
		d, err := v.prober.Duration(ctx, abs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errs.Wrap(errs.KindCancelled, "probe interrupted", ctx.Err())
			}
			return nil, errs.Wrap(errs.KindUnsupportedFormat, "unreadable video", err).WithDetail("path", abs)
		}
		if v.maxDuration > 0 && d > v.maxDuration {
			return nil, errs.Newf(errs.KindInvalidParameter, "duration %.1fs exceeds limit %.1fs", d, v.maxDuration).
				WithDetail("path", abs)
		}
		info.Duration = d
	}

	fp, err := Fingerprint(abs)
	if err != nil {
		return nil, errs.Wrap(errs.KindVideoNotFound, "cannot read video file", err).WithDetail("path", abs)
	}
	info.Fingerprint = fp
	return info, nil
}

// Fingerprint returns the hex md5 of the file's content.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
