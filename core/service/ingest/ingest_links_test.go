package ingest

import (
	"strings"
	"testing"

	"ingest_server/core/domain"
)

func TestUnwrap(t *testing.T) {
	u := NewLinkUnwrapper([]string{"wrap.example"}, "url")

	tests := []struct {
		name     string
		in       string
		want     string
		unwanted string
	}{
		{
			name: "wrapped link resolves to destination",
			in:   `<a href="https://wrap.example/?url=https%3A%2F%2Freal.example%2Fx">go</a>`,
			want: `href="https://real.example/x"`,
		},
		{
			name: "subdomain of redirector host matches",
			in:   `<a href="https://eur01.wrap.example/?url=https%3A%2F%2Freal.example%2Fy&amp;data=abc">go</a>`,
			want: `href="https://real.example/y"`,
		},
		{
			name: "ordinary link passes through unchanged",
			in:   `<a href="https://real.example/page">go</a>`,
			want: `<a href="https://real.example/page">go</a>`,
		},
		{
			name: "redirector without destination param left alone",
			in:   `<a href="https://wrap.example/?other=1">go</a>`,
			want: `href="https://wrap.example/?other=1"`,
		},
		{
			name:     "redirector url in text content not rewritten",
			in:       `<p>visit https://wrap.example/?url=https%3A%2F%2Freal.example</p>`,
			want:     `https://wrap.example/?url=`,
			unwanted: `href`,
		},
		{
			name: "host match requires suffix boundary",
			in:   `<a href="https://notwrap.example/?url=https%3A%2F%2Freal.example">go</a>`,
			want: `href="https://notwrap.example/?url=`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(u.Unwrap(domain.RawHTML(tt.in)))
			if !strings.Contains(got, tt.want) {
				t.Errorf("Unwrap() = %q, want substring %q", got, tt.want)
			}
			if tt.unwanted != "" && strings.Contains(got, tt.unwanted) {
				t.Errorf("Unwrap() = %q, must not contain %q", got, tt.unwanted)
			}
		})
	}
}

func TestUnwrap_NoHostsConfigured(t *testing.T) {
	u := NewLinkUnwrapper(nil, "url")
	in := `<a href="https://wrap.example/?url=https%3A%2F%2Freal.example">go</a>`
	if got := string(u.Unwrap(domain.RawHTML(in))); got != in {
		t.Errorf("Unwrap() with no hosts = %q, want input unchanged", got)
	}
}
