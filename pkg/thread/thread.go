// Package thread contains the core domain types for a reconstructed discussion thread.
package thread

import (
	"encoding/json"
	"html/template"
	"sync"
)

// Post represents a single post after its content has been sanitized.
type Post struct {
	ID        string        `json:"id"`                    // Post URL, unique within one thread
	Author    string        `json:"author"`                // attributedTo URL
	Published string        `json:"published,omitempty"`   // Opaque timestamp as sent by the server
	InReplyTo string        `json:"in_reply_to,omitempty"` // Parent post id, if the server gave one
	Content   template.HTML `json:"content"`               // Sanitized HTML, safe to emit as-is
}

// Node is one post plus its replies.
// The reply list may be appended to concurrently while the thread is loading;
// once loading returns it is read-only.
type Node struct {
	Post *Post

	mu      sync.Mutex
	replies []*Reply
}

// NewNode creates a node without replies.
func NewNode(post *Post) *Node {
	return &Node{Post: post}
}

// AddReply appends a reply.
func (n *Node) AddReply(r *Reply) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, r)
}

// RemoveReply detaches r and reports whether it was attached to n.
func (n *Node) RemoveReply(r *Reply) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, have := range n.replies {
		if have == r {
			n.replies = append(n.replies[:i], n.replies[i+1:]...)
			return true
		}
	}
	return false
}

// Replies returns a snapshot of the node's replies in attachment order.
func (n *Node) Replies() []*Reply {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Reply, len(n.replies))
	copy(out, n.replies)
	return out
}

// Contains reports whether target is n or one of its descendants.
func (n *Node) Contains(target *Node) bool {
	if n == target {
		return true
	}
	for _, r := range n.Replies() {
		if r.Node != nil && r.Node.Contains(target) {
			return true
		}
	}
	return false
}

// Count walks the subtree below n and returns the number of resolved and missing replies.
func (n *Node) Count() (resolved, missing int) {
	for _, r := range n.Replies() {
		if r.Node == nil {
			missing++
			continue
		}
		resolved++
		res, miss := r.Node.Count()
		resolved += res
		missing += miss
	}
	return resolved, missing
}

// MarshalJSON renders the subtree as {"post": ..., "replies": [...]}.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Post    *Post    `json:"post"`
		Replies []*Reply `json:"replies"`
	}{
		Post:    n.Post,
		Replies: n.Replies(),
	})
}

// Reply is the outcome of resolving one entry of a reply collection.
// Exactly one of Node or Err is set.
type Reply struct {
	Node *Node  // Resolved subtree; nil when the reply is missing
	URL  string // Reference URL, when the entry was a bare reference
	Err  error  // Why the reply could not be loaded
}

// Resolved wraps a loaded subtree.
func Resolved(n *Node) *Reply {
	return &Reply{Node: n, URL: n.Post.ID}
}

// Missing records a reply that existed but could not be loaded or decoded.
func Missing(url string, err error) *Reply {
	return &Reply{URL: url, Err: err}
}

// Missing reports whether the reply failed to load.
func (r *Reply) Missing() bool {
	return r.Node == nil
}

// MarshalJSON renders a resolved reply as its node and a missing one as a placeholder.
func (r *Reply) MarshalJSON() ([]byte, error) {
	if r.Node != nil {
		return r.Node.MarshalJSON()
	}
	return json.Marshal(struct {
		Missing bool   `json:"missing"`
		URL     string `json:"url,omitempty"`
	}{
		Missing: true,
		URL:     r.URL,
	})
}
