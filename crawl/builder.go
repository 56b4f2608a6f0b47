// Package crawl rebuilds a reply thread by walking ActivityPub reply collections.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/api/iterator"

	"fedi-thread-viewer/activitypub"
	"fedi-thread-viewer/pkg/thread"
	"fedi-thread-viewer/sanitize"
)

// ErrMissingRepliesLink indicates a post without replies.first.next.
var ErrMissingRepliesLink = errors.New("missing replies link")

// errDuplicate marks an item whose post was already claimed during this load.
var errDuplicate = errors.New("duplicate post")

const defaultConcurrency = 8

// Options tunes a Builder.
type Options struct {
	Concurrency int // Max concurrent fetches per LoadThread call; 0 means the default
	MaxPages    int // Max pages per reply collection; 0 means no limit
}

// Builder loads threads.
type Builder struct {
	fetcher PageFetcher
	logger  *slog.Logger
	opts    Options
}

// New creates a new thread builder.
func New(fetcher PageFetcher, logger *slog.Logger, opts Options) *Builder {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Builder{
		fetcher: fetcher,
		logger:  logger,
		opts:    opts,
	}
}

// LoadThread fetches the post at rootURL and every reply reachable from it.
//
// Failures on the root post or its own reply pagination are returned. Failures
// on a reply become a missing entry at that reply's position. Each reply is
// first attached under the post whose collection listed it, in the order the
// collection listed it. Once the whole tree has loaded, replies whose
// inReplyTo names another post in the tree are moved under that post.
func (b *Builder) LoadThread(ctx context.Context, rootURL string) (*thread.Node, error) {
	b.logger.Info("Thread load starting", "url", rootURL)
	start := time.Now()

	l := &load{
		Builder: b,
		sem:     semaphore.NewWeighted(int64(b.opts.Concurrency)),
		seen:    make(map[string]struct{}),
	}
	l.claim(rootURL)

	root, err := l.thread(ctx, rootURL)
	if err != nil {
		b.logger.Warn("Thread load failed", "url", rootURL, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, err
	}
	b.reattach(root)

	resolved, missing := root.Count()
	b.logger.Info("Thread load completed",
		"url", rootURL,
		"resolved", resolved,
		"missing", missing,
		"duration_ms", time.Since(start).Milliseconds())
	return root, nil
}

// load holds the state of one LoadThread call.
type load struct {
	*Builder
	sem *semaphore.Weighted

	mu   sync.Mutex
	seen map[string]struct{} // Post ids and reference URLs claimed during this load
}

// FetchPage bounds concurrent fetches for this load.
func (l *load) FetchPage(ctx context.Context, url string) (any, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.fetcher.FetchPage(ctx, url)
}

// claim reserves key and reports whether it was free.
func (l *load) claim(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// thread loads a referenced post and its replies. url must already be claimed.
func (l *load) thread(ctx context.Context, url string) (*thread.Node, error) {
	doc, err := l.FetchPage(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch post: %w", err)
	}
	post, err := newPost(doc)
	if err != nil {
		return nil, err
	}
	next, ok := activitypub.RepliesLink(doc)
	if !ok {
		return nil, fmt.Errorf("%s: %w", url, ErrMissingRepliesLink)
	}
	if post.ID != url && !l.claim(post.ID) {
		return nil, errDuplicate
	}

	node := thread.NewNode(post)
	if err := l.replies(ctx, node, next); err != nil {
		return nil, err
	}
	return node, nil
}

// inline loads a post embedded in a reply page, and its replies if it links any.
func (l *load) inline(ctx context.Context, obj any) (*thread.Node, error) {
	post, err := newPost(obj)
	if err != nil {
		return nil, err
	}
	if !l.claim(post.ID) {
		return nil, errDuplicate
	}

	node := thread.NewNode(post)
	if next, ok := activitypub.RepliesLink(obj); ok {
		if err := l.replies(ctx, node, next); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// outcome is the result of resolving one collection item.
type outcome struct {
	reply *thread.Reply
	skip  bool
}

// replies walks the collection starting at firstURL and attaches every item
// under parent. Items are resolved concurrently and attached in discovery
// order once all of them have finished.
func (l *load) replies(ctx context.Context, parent *thread.Node, firstURL string) error {
	w := NewWalker(l, firstURL, l.opts.MaxPages, l.logger)

	var (
		wg       sync.WaitGroup
		outcomes []*outcome
	)
	for {
		item, err := w.Next(ctx)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			wg.Wait()
			return err
		}
		o := &outcome{}
		outcomes = append(outcomes, o)
		wg.Go(func() {
			l.resolve(ctx, item, o)
		})
	}
	wg.Wait()

	l.logger.Debug("No more pages of replies",
		"post", parent.Post.ID,
		"pages", w.Pages(),
		"items", len(outcomes))

	for _, o := range outcomes {
		if !o.skip {
			parent.AddReply(o.reply)
		}
	}
	return nil
}

// move is a reply listed under one post whose inReplyTo names another.
type move struct {
	from  *thread.Node
	reply *thread.Reply
}

// reattach moves replies under the post their inReplyTo names. Only posts
// reachable from root are targets, so a reply never lands inside a branch
// that failed to load. A move that would put a post under its own
// descendant is skipped.
func (b *Builder) reattach(root *thread.Node) {
	index := make(map[string]*thread.Node)
	var moves []move

	var walk func(n *thread.Node)
	walk = func(n *thread.Node) {
		if _, ok := index[n.Post.ID]; !ok {
			index[n.Post.ID] = n
		}
		for _, r := range n.Replies() {
			if r.Node == nil {
				continue
			}
			if p := r.Node.Post.InReplyTo; p != "" && p != n.Post.ID {
				moves = append(moves, move{from: n, reply: r})
			}
			walk(r.Node)
		}
	}
	walk(root)

	for _, m := range moves {
		target, ok := index[m.reply.Node.Post.InReplyTo]
		if !ok || m.reply.Node.Contains(target) {
			continue
		}
		if !m.from.RemoveReply(m.reply) {
			continue
		}
		target.AddReply(m.reply)
		b.logger.Debug("Reattaching reply under its parent",
			"post", m.reply.Node.Post.ID,
			"parent", target.Post.ID,
			"listed_under", m.from.Post.ID)
	}
}

func (l *load) resolve(ctx context.Context, item any, o *outcome) {
	var (
		node *thread.Node
		ref  string
		err  error
	)
	switch v := item.(type) {
	case string:
		ref = v
		if !l.claim(v) {
			l.logger.Debug("Skipping reply already loaded", "url", v)
			o.skip = true
			return
		}
		node, err = l.thread(ctx, v)
	case map[string]any:
		ref, _ = v["id"].(string)
		node, err = l.inline(ctx, v)
	default:
		err = fmt.Errorf("%w: reply item is %T", activitypub.ErrMalformed, item)
	}

	switch {
	case errors.Is(err, errDuplicate):
		l.logger.Debug("Skipping reply already loaded", "url", ref)
		o.skip = true
	case err != nil:
		l.logger.Warn("Reply could not be loaded", "url", ref, "error", err)
		o.reply = thread.Missing(ref, err)
	default:
		o.reply = thread.Resolved(node)
	}
}

// newPost decodes and sanitizes a post object.
func newPost(v any) (*thread.Post, error) {
	obj, err := activitypub.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	content, err := sanitize.Sanitize(obj.Content)
	if err != nil {
		return nil, fmt.Errorf("sanitize %s: %w", obj.ID, err)
	}
	return &thread.Post{
		ID:        obj.ID,
		Author:    obj.AttributedTo,
		Published: obj.Published,
		InReplyTo: obj.InReplyTo,
		Content:   template.HTML(content),
	}, nil
}
