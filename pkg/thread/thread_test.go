package thread

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func node(id string) *Node {
	return NewNode(&Post{ID: id, Author: "https://example.social/users/ann", Content: "<p>x</p>"})
}

func TestCountAndContains(t *testing.T) {
	root := node("root")
	a := node("a")
	b := node("b")
	other := node("other")
	a.AddReply(Resolved(b))
	a.AddReply(Missing("https://gone.example/1", errors.New("HTTP 404")))
	root.AddReply(Resolved(a))
	root.AddReply(Missing("", errors.New("malformed")))

	resolved, missing := root.Count()
	if resolved != 2 || missing != 2 {
		t.Errorf("Count() = %d, %d, want 2, 2", resolved, missing)
	}
	if !root.Contains(b) || !a.Contains(a) {
		t.Error("Contains() missed a descendant")
	}
	if root.Contains(other) || b.Contains(a) {
		t.Error("Contains() found a node outside the subtree")
	}
}

func TestAddReplyConcurrent(t *testing.T) {
	root := node("root")
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			root.AddReply(Resolved(node("child")))
		})
	}
	wg.Wait()
	if n := len(root.Replies()); n != 100 {
		t.Errorf("len(Replies()) = %d, want 100", n)
	}
}

func TestRemoveReply(t *testing.T) {
	root := node("root")
	a := Resolved(node("a"))
	b := Resolved(node("b"))
	c := Resolved(node("c"))
	root.AddReply(a)
	root.AddReply(b)
	root.AddReply(c)

	if !root.RemoveReply(b) {
		t.Fatal("RemoveReply(b) = false, want true")
	}
	if root.RemoveReply(b) {
		t.Error("second RemoveReply(b) = true, want false")
	}
	got := root.Replies()
	if len(got) != 2 || got[0] != a || got[1] != c {
		t.Errorf("Replies() after removal = %v, want [a c]", got)
	}
}

func TestMarshalJSON(t *testing.T) {
	root := node("root")
	root.AddReply(Resolved(node("a")))
	root.AddReply(Missing("https://gone.example/1", errors.New("HTTP 404")))

	data, err := json.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got struct {
		Post    Post             `json:"post"`
		Replies []map[string]any `json:"replies"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Post.ID != "root" || got.Post.Content != "<p>x</p>" {
		t.Errorf("post = %+v", got.Post)
	}
	if len(got.Replies) != 2 {
		t.Fatalf("len(replies) = %d, want 2", len(got.Replies))
	}
	if _, ok := got.Replies[0]["post"]; !ok {
		t.Error("resolved reply has no post")
	}
	if got.Replies[1]["missing"] != true || got.Replies[1]["url"] != "https://gone.example/1" {
		t.Errorf("missing reply = %v", got.Replies[1])
	}
}
