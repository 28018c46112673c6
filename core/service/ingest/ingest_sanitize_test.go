package ingest

import (
	"strings"
	"testing"

	"ingest_server/core/domain"
)

func TestSanitize(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name     string
		in       string
		want     []string
		unwanted []string
	}{
		{
			name:     "script removed with content",
			in:       `<script>alert(1)</script><p>hi</p>`,
			want:     []string{"<p>hi</p>"},
			unwanted: []string{"script", "alert"},
		},
		{
			name:     "script removal is case insensitive",
			in:       `<SCRIPT>alert(1)</SCRIPT><p>hi</p>`,
			want:     []string{"<p>hi</p>"},
			unwanted: []string{"alert"},
		},
		{
			name:     "style iframe object embed dropped entirely",
			in:       `<style>p{color:red}</style><iframe src="https://x.example"></iframe><object data="x"></object><embed src="x"><p>kept</p>`,
			want:     []string{"<p>kept</p>"},
			unwanted: []string{"iframe", "object", "embed", "color:red"},
		},
		{
			name:     "unknown tag stripped but content kept",
			in:       `<article><p>body</p></article>`,
			want:     []string{"<p>body</p>"},
			unwanted: []string{"article"},
		},
		{
			name:     "event handlers stripped",
			in:       `<p onclick="alert(1)" style="color: red">hi</p>`,
			want:     []string{`style="color: red"`, "hi"},
			unwanted: []string{"onclick"},
		},
		{
			name:     "javascript href dropped",
			in:       `<a href="javascript:alert(1)" title="x">go</a>`,
			want:     []string{`title="x"`},
			unwanted: []string{"javascript"},
		},
		{
			name:     "data url dropped",
			in:       `<img src="data:image/png;base64,AAAA" alt="x">`,
			want:     []string{`alt="x"`},
			unwanted: []string{"data:"},
		},
		{
			name:     "unresolved cid dropped",
			in:       `<img src="cid:orphan" alt="x">`,
			want:     []string{`alt="x"`},
			unwanted: []string{"cid:"},
		},
		{
			name:     "protocol-relative href dropped",
			in:       `<a href="//evil.example/x" title="x">go</a>`,
			want:     []string{`title="x"`},
			unwanted: []string{"evil.example"},
		},
		{
			name:     "protocol-relative src dropped",
			in:       `<img src="//evil.example/pix.png" alt="x">`,
			want:     []string{`alt="x"`},
			unwanted: []string{"evil.example"},
		},
		{
			name: "local asset path survives",
			in:   `<img src="/static/newsletters/abc_0.png" alt="hero">`,
			want: []string{`src="/static/newsletters/abc_0.png"`},
		},
		{
			name: "https link survives",
			in:   `<a href="https://real.example/x">go</a>`,
			want: []string{`href="https://real.example/x"`},
		},
		{
			name:     "comments stripped",
			in:       `<p>hi</p><!-- tracker -->`,
			want:     []string{"<p>hi</p>"},
			unwanted: []string{"tracker"},
		},
		{
			name:     "disallowed style property dropped",
			in:       `<div style="position: fixed; color: blue">x</div>`,
			want:     []string{`style="color: blue"`},
			unwanted: []string{"position"},
		},
		{
			name:     "style with url() dropped",
			in:       `<div style="background-color: url(javascript:x)">x</div>`,
			unwanted: []string{"url(", "style"},
		},
		{
			name:     "table structure kept",
			in:       `<table border="1"><tr><td colspan="2">cell</td></tr></table>`,
			want:     []string{`<table border="1">`, `<td colspan="2">cell</td>`},
		},
		{
			name: "class survives on any allowed tag",
			in:   `<span class="hl">x</span>`,
			want: []string{`class="hl"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(s.Sanitize(domain.ResolvedHTML(tt.in)))
			lower := strings.ToLower(got)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Sanitize() = %q, want substring %q", got, w)
				}
			}
			for _, u := range tt.unwanted {
				if strings.Contains(lower, strings.ToLower(u)) {
					t.Errorf("Sanitize() = %q, must not contain %q", got, u)
				}
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	inputs := []string{
		`<script>alert(1)</script><p onclick="x">hi &amp; bye</p>`,
		`<div style="color: red; position: fixed"><a href="https://x.example" title="it's">go</a></div>`,
		`<img src="/static/newsletters/a_0.png" alt="a"><img src="cid:orphan">`,
		`<table border="1"><tbody><tr><td>1</td></tr></tbody></table>`,
		`plain text with <unknown>tags</unknown> and "quotes"`,
	}

	for _, in := range inputs {
		once := s.Sanitize(domain.ResolvedHTML(in))
		twice := s.Sanitize(domain.ResolvedHTML(once))
		if once != domain.SanitizedHTML(twice) {
			t.Errorf("not idempotent:\n in: %q\nonce: %q\ntwice: %q", in, once, twice)
		}
	}
}
