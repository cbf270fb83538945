package source

import (
	"strconv"

	"github.com/timmy/motionmatch/internal/errs"
)

// page slices items by an index cursor.
func page(items []VideoItem, cursor string, limit int) ([]VideoItem, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", errs.Newf(errs.KindInvalidParameter, "invalid cursor %q", cursor)
		}
	}
	if start >= len(items) {
		return []VideoItem{}, "", nil
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	next := ""
	if end < len(items) {
		next = strconv.Itoa(end)
	}
	return items[start:end], next, nil
}
