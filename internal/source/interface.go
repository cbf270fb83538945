package source

import (
	"context"
	"fmt"
)

// VideoItem is one candidate video produced by a source.
type VideoItem struct {
	VideoID string // optional; derived from the path when empty
	Path    string
	Title   string
	Tags    []string
}

// Source produces video items in batches.
type Source interface {
	// GetSourceID returns a stable identifier for logs and job records.
	GetSourceID() string

	// FetchBatch fetches up to limit items starting from cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of video items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []VideoItem, nextCursor string, err error)
}

// Collect drains a source into a slice.
func Collect(ctx context.Context, src Source, batchSize int) ([]VideoItem, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	var (
		all    []VideoItem
		cursor string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, next, err := src.FetchBatch(ctx, cursor, batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch from %s: %w", src.GetSourceID(), err)
		}
		all = append(all, items...)
		if next == "" || len(items) == 0 {
			return all, nil
		}
		cursor = next
	}
}
