// Package page implements cursor-based slicing over the entity
// set: an unfiltered fast path that only counts list lengths,
// and a filtered path that walks every candidate through a predicate
// while tracking the window offset and the total passing count.
package page

import (
	"strconv"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
)

// DefaultLimit applies when Opts.Limit is zero or negative.
const DefaultLimit = 100

// Opts selects a page window. Cursor is an opaque integer encoded as a
// string: the zero-based start index within the full candidate set.
// It is stable only as long as no intervening mutation reorders the
// set; between-page mutations may shift or skip items (best
// effort).
type Opts struct {
	Limit  int
	Cursor string
}

func (o Opts) window() (start, limit int, err error) {
	limit = o.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if o.Cursor == "" {
		return 0, limit, nil
	}
	start, err = strconv.Atoi(o.Cursor)
	if err != nil || start < 0 {
		return 0, 0, qerrors.InvalidFieldValue("bad page cursor: " + o.Cursor)
	}
	return start, limit, nil
}

// EncodeCursor renders a start index as the opaque cursor string.
func EncodeCursor(start int) string {
	return strconv.Itoa(start)
}

// Result is one page of entity ids. Total is the size of the full
// (post-filter) candidate set; NextCursor is empty on the last page.
type Result struct {
	Items      []ids.EntityId
	Total      int
	NextCursor string
}

// Collect is the unfiltered fast path: total is the sum of list
// lengths, and the window is carved by skipping start items across the
// concatenation of lists in the order given.
func Collect(lists [][]ids.EntityId, opts Opts) (Result, error) {
	start, limit, err := opts.window()
	if err != nil {
		return Result{}, err
	}

	total := 0
	for _, list := range lists {
		total += len(list)
	}

	items := make([]ids.EntityId, 0, min(limit, total))
	skip := start
	for _, list := range lists {
		if len(items) == limit {
			break
		}
		if skip >= len(list) {
			skip -= len(list)
			continue
		}
		for _, id := range list[skip:] {
			items = append(items, id)
			if len(items) == limit {
				break
			}
		}
		skip = 0
	}

	return Result{Items: items, Total: total, NextCursor: nextCursor(start, len(items), total)}, nil
}

// CollectFiltered walks every candidate in order through keep,
// counting the full passing total and copying ids into the page window
// once the start offset is reached. keep returning false excludes the
// candidate without aborting the walk.
func CollectFiltered(lists [][]ids.EntityId, opts Opts, keep func(ids.EntityId) bool) (Result, error) {
	start, limit, err := opts.window()
	if err != nil {
		return Result{}, err
	}

	var items []ids.EntityId
	passing := 0
	for _, list := range lists {
		for _, id := range list {
			if !keep(id) {
				continue
			}
			if passing >= start && len(items) < limit {
				items = append(items, id)
			}
			passing++
		}
	}

	return Result{Items: items, Total: passing, NextCursor: nextCursor(start, len(items), passing)}, nil
}

// Window computes the [start, end) slice bounds for paging a flat
// collection of total items, plus the next cursor. Used for candidate
// sets that are not entity-id lists (e.g. the known-types list).
func Window(total int, opts Opts) (start, end int, next string, err error) {
	start, limit, err := opts.window()
	if err != nil {
		return 0, 0, "", err
	}
	if start > total {
		start = total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end, nextCursor(start, end-start, total), nil
}

func nextCursor(start, got, total int) string {
	if start+got >= total || got == 0 {
		return ""
	}
	return EncodeCursor(start + got)
}
