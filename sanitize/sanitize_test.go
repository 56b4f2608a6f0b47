package sanitize

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"empty", "", ""},
		{"paragraph", "<p>hello</p>", "<p>hello</p>"},
		{"bare gt escaped", "a>b", "a&gt;b"},
		{"named entity", "&quot;hi&quot;", "&quot;hi&quot;"},
		{"numeric entity", "it&#39;s", "it&#39;s"},
		{"hex entity", "&#x1F600;", "&#x1F600;"},
		{"longest entity", "&abcdefg;", "&abcdefg;"},
		{"lower case tag", "<strong>x</strong>", "<strong>x</strong>"},
		{"mixed case tag", "<Em>x</eM>", "<Em>x</eM>"},
		{"whitespace before gt", "<p >x</p >", "<p >x</p >"},
		{"whitespace after lt", "< p>x</ p>", "< p>x</ p>"},
		{"self closing", "line<br/>next<br />", "line<br/>next<br />"},
		{"link", `<a href="https://example.social/@ann" rel="nofollow noopener" target="_blank">@ann</a>`,
			`<a href="https://example.social/@ann" rel="nofollow noopener" target="_blank">@ann</a>`},
		{"relative link", `<a href="/tags/go">#go</a>`, `<a href="/tags/go">#go</a>`},
		{"numeric attribute", `<td colspan=2>x</td>`, `<td colspan=2>x</td>`},
		{"bare attribute", `<p translate>x</p>`, `<p translate>x</p>`},
		{"attribute spacing", `<p class = "h-card">x</p>`, `<p class = "h-card">x</p>`},
		{"gt inside quoted value", `<p title="a>b">x</p>`, `<p title="a>b">x</p>`},
		{"closing tag not allowlisted", "</span>", "</span>"},
		{"unicode text", "héllo ☃", "héllo ☃"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input)
			if err != nil {
				t.Fatalf("Sanitize(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"script", "<script>alert(1)</script>", ErrUnsafeTag},
		{"uppercase script", "<SCRIPT>", ErrUnsafeTag},
		{"img", `<img src="x">`, ErrUnsafeTag},
		{"span in mention", `<p><span class="h-card">@ann</span></p>`, ErrUnsafeTag},
		{"comment", "<!-- x -->", ErrUnsafeTag},
		{"empty tag", "<>", ErrUnsafeTag},
		{"h6 not allowed", "<h6>x</h6>", ErrUnsafeTag},
		{"entity too long", "&toolongentitytext;", ErrUnterminatedEntity},
		{"entity at eof", "fish &amp", ErrUnterminatedEntity},
		{"empty entity", "&;", ErrBadEntity},
		{"empty numeric entity", "&#;", ErrBadEntity},
		{"entity then tag", "&<p>", ErrBadEntity},
		{"entity with space", "& amp;", ErrBadEntity},
		{"hash inside entity", "&a#b;", ErrBadEntity},
		{"closing without name", "</>", ErrInvalidClosingTag},
		{"closing with attribute", `</p class="x">`, ErrInvalidClosingTag},
		{"closing at eof", "</p", ErrInvalidClosingTag},
		{"opening at eof", "<p", ErrInvalidOpeningTag},
		{"unterminated quote", `<p title="x>`, ErrInvalidOpeningTag},
		{"stray slash", "<br/ >", ErrInvalidOpeningTag},
		{"attribute name punctuation", `<p -x="1">`, ErrInvalidOpeningTag},
		{"single quoted value", `<p title='x'>`, ErrInvalidAttributeValue},
		{"unquoted value", `<p title=x>`, ErrInvalidAttributeValue},
		{"value missing before gt", `<p title=>`, ErrInvalidAttributeValue},
		{"value missing at eof", `<p title=`, ErrMissingAttributeValue},
		{"event handler", `<p onclick="alert(1)">x</p>`, ErrUnsafeAttribute},
		{"style", `<p style="color:red">x</p>`, ErrUnsafeAttribute},
		{"attribute outside allowlist", `<p id="x">y</p>`, ErrUnsafeAttribute},
		{"javascript url", `<a href="javascript:alert(1)">x</a>`, ErrUnsafeAttribute},
		{"javascript url upper case", `<a href="JavaScript:alert(1)">x</a>`, ErrUnsafeAttribute},
		{"data url", `<blockquote cite="data:text/html,x">`, ErrUnsafeAttribute},
		{"numeric url", `<a href=1>x</a>`, ErrUnsafeAttribute},
		{"bare url attribute", `<a href>x</a>`, ErrUnsafeAttribute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Sanitize(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != "" {
				t.Errorf("Sanitize(%q) returned partial output %q", tt.input, got)
			}
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not *Error", err)
			}
			if se.Offset < 0 || se.Offset > len(tt.input) {
				t.Errorf("Offset = %d, out of range for %q", se.Offset, tt.input)
			}
		})
	}
}

func TestSanitizeErrorOffset(t *testing.T) {
	_, err := Sanitize(`<p>ok</p><p onclick="x">`)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("Sanitize() error = %v, want *Error", err)
	}
	if se.Offset != 12 {
		t.Errorf("Offset = %d, want 12", se.Offset)
	}
	if !strings.Contains(se.Error(), "offset 12") {
		t.Errorf("Error() = %q, want offset in message", se.Error())
	}
}

var corpus = []string{
	"<p>Hello <strong>world</strong> &amp; friends</p>",
	`<p><a href="https://example.social/tags/go" class="mention hashtag" rel="tag">#<b>go</b></a></p>`,
	"<blockquote><p>1 > 0 &lt; 2</p></blockquote>",
	"<ul><li>one</li><li>two</li></ul><br>",
	"<table><thead><tr><th colspan=2>h</th></tr></thead><tbody><tr><td>a</td><td>b</td></tr></tbody></table>",
	"<pre><code>if a >= b { return }</code></pre>",
	"a >> b > c",
	"<h1 lang=\"en\" dir=\"ltr\">Title</h1><ol start=3><li>x</li></ol>",
}

func TestSanitizeFixpoint(t *testing.T) {
	for _, in := range append(corpus, "< p>x</ p>", "") {
		once, err := Sanitize(in)
		if err != nil {
			t.Fatalf("Sanitize(%q) error = %v", in, err)
		}
		twice, err := Sanitize(once)
		if err != nil {
			t.Fatalf("Sanitize(Sanitize(%q)) error = %v", in, err)
		}
		if once != twice {
			t.Errorf("not a fixpoint:\n once %q\ntwice %q", once, twice)
		}
	}
}

// TestSanitizeOutputParses checks how a browser-grade tokenizer reads the
// output: every start tag must be allowlisted and no attribute may be an
// event handler or carry a script URL.
func TestSanitizeOutputParses(t *testing.T) {
	allowed := make(map[string]bool)
	for _, tag := range tags() {
		allowed[strings.ToLower(tag)] = true
	}

	for _, in := range corpus {
		out, err := Sanitize(in)
		if err != nil {
			t.Fatalf("Sanitize(%q) error = %v", in, err)
		}
		z := html.NewTokenizer(strings.NewReader(out))
		for {
			tt := z.Next()
			if tt == html.ErrorToken {
				break
			}
			if tt == html.CommentToken || tt == html.DoctypeToken {
				t.Errorf("Sanitize(%q) produced %v token", in, tt)
				continue
			}
			if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
				continue
			}
			tok := z.Token()
			if !allowed[tok.Data] {
				t.Errorf("Sanitize(%q) produced <%s>", in, tok.Data)
			}
			for _, a := range tok.Attr {
				if _, ok := safeAttrs[a.Key]; !ok {
					t.Errorf("Sanitize(%q) produced attribute %s", in, a.Key)
				}
				if strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
					t.Errorf("Sanitize(%q) produced script URL %q", in, a.Val)
				}
			}
		}
	}
}

func TestTags(t *testing.T) {
	all := tags()
	if len(all) != len(safeTags) {
		t.Fatalf("len(tags()) = %d, want %d", len(all), len(safeTags))
	}
	for _, tag := range all {
		if tag != strings.ToUpper(tag) {
			t.Errorf("tag %q is not upper case", tag)
		}
		for _, in := range []string{"<" + tag + ">", "<" + tag + ">x</" + tag + ">"} {
			got, err := Sanitize(in)
			if err != nil {
				t.Errorf("Sanitize(%q) error = %v", in, err)
				continue
			}
			if got != in {
				t.Errorf("Sanitize(%q) = %q, want input unchanged", in, got)
			}
		}
	}
}
