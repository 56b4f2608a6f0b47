package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/iterator"
)

// ErrInvalidRepliesData indicates a reply page without an "items" list.
var ErrInvalidRepliesData = errors.New("invalid replies data")

// PageFetcher fetches one JSON document.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (any, error)
}

// Walker yields the items of a paginated reply collection, one page at a time.
// It is not safe for concurrent use and cannot be restarted.
type Walker struct {
	fetcher  PageFetcher
	logger   *slog.Logger
	maxPages int

	next    string              // Page to fetch once items is drained; "" when done
	items   []any               // Remaining items of the current page
	visited map[string]struct{} // Pages fetched so far
	err     error               // Sticky error
}

// NewWalker creates a walker starting at firstURL. maxPages limits the number
// of pages fetched; 0 means no limit.
func NewWalker(fetcher PageFetcher, firstURL string, maxPages int, logger *slog.Logger) *Walker {
	return &Walker{
		fetcher:  fetcher,
		logger:   logger,
		maxPages: maxPages,
		next:     firstURL,
		visited:  make(map[string]struct{}),
	}
}

// Next returns the next item. It returns iterator.Done when the collection is
// exhausted, or the error that stopped the walk.
func (w *Walker) Next(ctx context.Context) (any, error) {
	for len(w.items) == 0 {
		if w.err != nil {
			return nil, w.err
		}
		if w.next == "" {
			return nil, iterator.Done
		}
		if err := w.fetch(ctx); err != nil {
			w.err = err
			return nil, err
		}
	}
	item := w.items[0]
	w.items = w.items[1:]
	return item, nil
}

// Pages returns the number of pages fetched so far.
func (w *Walker) Pages() int {
	return len(w.visited)
}

func (w *Walker) fetch(ctx context.Context) error {
	url := w.next
	w.next = ""

	if w.maxPages > 0 && len(w.visited) >= w.maxPages {
		w.logger.Warn("Reply page budget exhausted, stopping", "url", url, "max_pages", w.maxPages)
		return nil
	}
	w.visited[url] = struct{}{}

	w.logger.Debug("Getting page of replies", "url", url, "page", len(w.visited))
	page, err := w.fetcher.FetchPage(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch replies page: %w", err)
	}

	m, _ := page.(map[string]any)
	items, ok := m["items"].([]any)
	if !ok {
		return fmt.Errorf("%w: %s has no items list", ErrInvalidRepliesData, url)
	}
	w.items = items

	next, ok := m["next"].(string)
	switch {
	case !ok || next == "":
	case next == url:
		w.logger.Debug("Reply page links to itself, stopping", "url", url)
	default:
		if _, seen := w.visited[next]; seen {
			w.logger.Warn("Reply pages form a cycle, stopping", "url", url, "next", next)
			break
		}
		w.next = next
	}
	return nil
}
