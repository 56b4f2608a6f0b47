// Package sanitize rewrites untrusted post HTML into a small, safe subset.
//
// The scanner is fail-closed: anything outside its grammar rejects the whole
// fragment instead of being stripped or escaped.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Errors returned (wrapped in *Error) by Sanitize.
var (
	ErrBadEntity             = errors.New("bad HTML entity")
	ErrUnterminatedEntity    = errors.New("unterminated HTML entity")
	ErrUnsafeTag             = errors.New("unsafe tag")
	ErrUnsafeAttribute       = errors.New("unsafe attribute")
	ErrInvalidClosingTag     = errors.New("invalid closing tag")
	ErrInvalidOpeningTag     = errors.New("invalid opening tag")
	ErrInvalidAttributeValue = errors.New("invalid attribute value")
	ErrMissingAttributeValue = errors.New("missing attribute value")
)

// maxEntityLen bounds an entity body plus its terminating ';'.
const maxEntityLen = 8

var safeTags = map[string]bool{
	"P": true, "BR": true, "CODE": true, "BLOCKQUOTE": true, "PRE": true,
	"SUB": true, "SUP": true, "CAPTION": true,
	"A": true, "H1": true, "H2": true, "H3": true, "H4": true, "H5": true,
	"STRONG": true, "EM": true, "B": true, "U": true, "Q": true, "DEL": true,
	"UL": true, "OL": true, "LI": true, "DL": true, "DT": true, "DD": true,
	"TABLE": true, "THEAD": true, "TBODY": true, "TR": true, "TH": true, "TD": true,
	"COLGROUP": true, "COL": true,
}

// safeAttrs maps allowed attribute names to whether they carry a URL.
var safeAttrs = map[string]bool{
	"href":      true,
	"cite":      true,
	"title":     false,
	"class":     false,
	"rel":       false,
	"target":    false,
	"lang":      false,
	"dir":       false,
	"translate": false,
	"colspan":   false,
	"rowspan":   false,
	"span":      false,
	"start":     false,
}

var safeURLPrefixes = []string{"http://", "https://", "mailto:", "/", "#"}

// Error describes where and why a fragment was rejected.
type Error struct {
	Offset int // Byte offset in the input
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// tags returns the allowed element names in upper case.
func tags() []string {
	out := make([]string, 0, len(safeTags))
	for t := range safeTags {
		out = append(out, t)
	}
	return out
}

// Sanitize copies input to the output if every construct in it is allowed,
// escaping bare '>' in text. It returns an *Error otherwise.
func Sanitize(input string) (string, error) {
	s := &scanner{in: input}
	s.out.Grow(len(input))
	for {
		r, ok := s.next()
		if !ok {
			return s.out.String(), nil
		}
		var err error
		switch r {
		case '>':
			s.out.WriteString("&gt;")
		case '&':
			s.out.WriteRune(r)
			err = s.entity()
		case '<':
			s.out.WriteRune(r)
			err = s.tag()
		default:
			s.out.WriteRune(r)
		}
		if err != nil {
			return "", err
		}
	}
}

type scanner struct {
	in  string
	pos int
	out strings.Builder
}

func (s *scanner) peek() (rune, bool) {
	if s.pos >= len(s.in) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s.in[s.pos:])
	return r, true
}

func (s *scanner) next() (rune, bool) {
	if s.pos >= len(s.in) {
		return 0, false
	}
	r, n := utf8.DecodeRuneInString(s.in[s.pos:])
	s.pos += n
	return r, true
}

// copyNext moves one rune from input to output.
func (s *scanner) copyNext() {
	r, _ := s.next()
	s.out.WriteRune(r)
}

func (s *scanner) fail(err error) error {
	return &Error{Offset: s.pos, Err: err}
}

func (s *scanner) whitespace() {
	for {
		r, ok := s.peek()
		if !ok || !unicode.IsSpace(r) {
			return
		}
		s.copyNext()
	}
}

func (s *scanner) identifier() string {
	start := s.pos
	for {
		r, ok := s.peek()
		if !ok || !isAlnum(r) {
			break
		}
		s.copyNext()
	}
	return s.in[start:s.pos]
}

// entity scans the body of an entity whose '&' has already been copied.
func (s *scanner) entity() error {
	n := 0
	numeric := false
	for n < maxEntityLen {
		r, ok := s.next()
		if !ok {
			break
		}
		switch {
		case r == ';':
			if n == 0 || (numeric && n == 1) {
				return s.fail(ErrBadEntity)
			}
			s.out.WriteRune(r)
			return nil
		case r == '#' && n == 0:
			numeric = true
		case !isAlnum(r):
			return s.fail(ErrBadEntity)
		}
		s.out.WriteRune(r)
		n++
	}
	return s.fail(ErrUnterminatedEntity)
}

func (s *scanner) tag() error {
	s.whitespace()
	if r, ok := s.peek(); ok && r == '/' {
		s.copyNext()
		s.whitespace()
		if s.identifier() == "" {
			return s.fail(ErrInvalidClosingTag)
		}
		s.whitespace()
		if r, ok := s.next(); !ok || r != '>' {
			return s.fail(ErrInvalidClosingTag)
		}
		s.out.WriteRune('>')
		return nil
	}

	if !safeTags[strings.ToUpper(s.identifier())] {
		return s.fail(ErrUnsafeTag)
	}
	s.whitespace()
	for {
		r, ok := s.peek()
		if !ok {
			return s.fail(ErrInvalidOpeningTag)
		}
		switch r {
		case '>':
			s.copyNext()
			return nil
		case '/':
			s.copyNext()
			if r, ok := s.next(); !ok || r != '>' {
				return s.fail(ErrInvalidOpeningTag)
			}
			s.out.WriteRune('>')
			return nil
		}
		if err := s.attribute(); err != nil {
			return err
		}
		s.whitespace()
	}
}

func (s *scanner) attribute() error {
	start := s.pos
	name := strings.ToLower(s.identifier())
	if name == "" {
		return s.fail(ErrInvalidOpeningTag)
	}
	isURL, ok := safeAttrs[name]
	if !ok {
		return &Error{Offset: start, Err: ErrUnsafeAttribute}
	}
	s.whitespace()
	if r, ok := s.peek(); !ok || r != '=' {
		if isURL {
			return &Error{Offset: start, Err: ErrUnsafeAttribute}
		}
		return nil
	}
	s.copyNext()
	s.whitespace()

	r, ok := s.peek()
	switch {
	case !ok:
		return s.fail(ErrMissingAttributeValue)
	case r >= '0' && r <= '9':
		if isURL {
			return &Error{Offset: start, Err: ErrUnsafeAttribute}
		}
		for {
			r, ok := s.peek()
			if !ok || r < '0' || r > '9' {
				return nil
			}
			s.copyNext()
		}
	case r == '"':
		s.copyNext()
		valueStart := s.pos
		for {
			r, ok := s.next()
			if !ok {
				return s.fail(ErrInvalidOpeningTag)
			}
			s.out.WriteRune(r)
			if r == '"' {
				break
			}
		}
		if isURL && !safeURL(s.in[valueStart:s.pos-1]) {
			return &Error{Offset: start, Err: ErrUnsafeAttribute}
		}
		return nil
	default:
		return s.fail(ErrInvalidAttributeValue)
	}
}

func safeURL(v string) bool {
	v = strings.ToLower(v)
	for _, p := range safeURLPrefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
