package ingest

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// htmlAttr is one attribute of a tag under rewrite.
type htmlAttr struct {
	Key string
	Val string
}

// rewriteTagAttrs streams src through an HTML tokenizer and hands every
// start/self-closing tag's attributes to fn for in-place mutation. Tags
// fn leaves untouched (and all other tokens) are emitted verbatim, so
// matches inside text content or comments are never rewritten. fn
// returns true when it changed something.
func rewriteTagAttrs(src string, fn func(tag string, attrs []htmlAttr) bool) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var buf bytes.Buffer
	buf.Grow(len(src))

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return buf.String()
		}

		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			buf.Write(z.Raw())
			continue
		}

		raw := append([]byte(nil), z.Raw()...)
		name, hasAttr := z.TagName()
		tag := string(name)

		var attrs []htmlAttr
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			attrs = append(attrs, htmlAttr{Key: string(key), Val: string(val)})
		}

		if !fn(tag, attrs) {
			buf.Write(raw)
			continue
		}
		writeTag(&buf, tag, attrs, tt == html.SelfClosingTagToken)
	}
}

func writeTag(buf *bytes.Buffer, tag string, attrs []htmlAttr, selfClosing bool) {
	buf.WriteByte('<')
	buf.WriteString(tag)
	for _, a := range attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteString(`="`)
		buf.WriteString(html.EscapeString(a.Val))
		buf.WriteByte('"')
	}
	if selfClosing {
		buf.WriteString("/>")
	} else {
		buf.WriteByte('>')
	}
}
