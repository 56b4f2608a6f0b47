// Package activitypub decodes the subset of ActivityPub JSON objects used to
// rebuild reply threads.
package activitypub

import (
	"errors"
	"fmt"
)

// ErrMalformed indicates a JSON value that is not a usable post object.
var ErrMalformed = errors.New("malformed post object")

// Object is a post as sent by the remote server. Content is untrusted HTML.
type Object struct {
	ID           string
	AttributedTo string
	Published    string
	Content      string
	InReplyTo    string
}

// Decode reads a post from a generic JSON value (as produced by encoding/json
// decoding into an any). id, attributedTo and content are required strings;
// published and inReplyTo are read when they are strings and ignored otherwise.
func Decode(v any) (*Object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformed, kind(v))
	}

	id, err := required(m, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformed)
	}
	author, err := required(m, "attributedTo")
	if err != nil {
		return nil, err
	}
	content, err := required(m, "content")
	if err != nil {
		return nil, err
	}

	published, _ := m["published"].(string)
	inReplyTo, _ := m["inReplyTo"].(string)

	return &Object{
		ID:           id,
		AttributedTo: author,
		Published:    published,
		Content:      content,
		InReplyTo:    inReplyTo,
	}, nil
}

// RepliesLink returns the URL of the first page of an object's replies,
// found at replies.first.next.
func RepliesLink(v any) (string, bool) {
	next, ok := Path(v, "replies", "first", "next").(string)
	return next, ok
}

// Path follows nested object keys and returns the value found, or nil if any
// step is missing or is not an object.
func Path(v any, keys ...string) any {
	for _, k := range keys {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[k]
	}
	return v
}

func required(m map[string]any, field string) (string, error) {
	v, ok := m[field]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrMalformed, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is %s, want string", ErrMalformed, field, kind(v))
	}
	return s, nil
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "number"
	}
}
