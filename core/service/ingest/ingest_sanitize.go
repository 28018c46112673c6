package ingest

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"ingest_server/core/domain"
)

// allowedTags is the fixed set of structural and formatting tags that
// survive sanitization. Anything else is stripped, keeping its text
// content, except the executable tags below which are removed with
// their content.
var allowedTags = map[string]bool{
	"p": true, "br": true, "strong": true, "b": true, "em": true,
	"i": true, "u": true, "ul": true, "ol": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"div": true, "span": true, "blockquote": true, "pre": true, "code": true,
	"a": true, "img": true, "table": true, "thead": true, "tbody": true,
	"tr": true, "th": true, "td": true,
	"hr": true, "small": true, "sub": true, "sup": true,
}

// dropContentTags are removed together with everything inside them.
var dropContentTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true, "embed": true,
	"title": true, "head": true,
}

// allowedAttrs maps tag name to its permitted attributes. class is
// permitted on every allowed tag.
var allowedAttrs = map[string]map[string]bool{
	"a":     {"href": true, "title": true},
	"img":   {"src": true, "alt": true, "title": true, "width": true, "height": true, "style": true},
	"div":   {"style": true},
	"span":  {"style": true},
	"p":     {"style": true},
	"table": {"style": true, "border": true, "cellpadding": true, "cellspacing": true},
	"th":    {"style": true, "colspan": true, "rowspan": true},
	"td":    {"style": true, "colspan": true, "rowspan": true},
}

// urlAttrs carry URLs and get the scheme check.
var urlAttrs = map[string]bool{"href": true, "src": true}

var allowedStyleProps = map[string]bool{
	"color": true, "background-color": true, "font-size": true,
	"font-weight": true, "font-family": true,
	"text-align": true, "text-decoration": true, "margin": true,
	"padding": true, "border": true,
	"border-color": true, "border-width": true, "border-style": true,
	"width": true, "height": true, "max-width": true, "max-height": true,
	"display": true, "float": true, "clear": true,
}

var (
	dangerousStyleValue = regexp.MustCompile(`(?i)javascript:|expression\(|@import|url\(|behavior:|binding:|mozbinding:`)
	colorValue          = regexp.MustCompile(`^(#[0-9a-fA-F]{3,6}|rgb\([^)]+\)|rgba\([^)]+\)|[a-zA-Z]+)$`)
)

// ContentSanitizer strips markup down to the tag/attribute allow-list
// above. It runs last in the pipeline: by then redirector links are
// unwrapped and cid: references are local paths, so the URL-scheme
// check can reject every remaining non-http(s), non-local reference.
// Sanitization is idempotent.
type ContentSanitizer struct{}

func NewContentSanitizer() *ContentSanitizer {
	return &ContentSanitizer{}
}

// Sanitize returns allow-listed markup with executable content, event
// handlers, unsafe URL schemes and comments removed.
func (s *ContentSanitizer) Sanitize(src domain.ResolvedHTML) domain.SanitizedHTML {
	z := html.NewTokenizer(strings.NewReader(string(src)))
	var buf bytes.Buffer
	buf.Grow(len(src))

	// Depth of nesting inside a drop-with-content tag; text and child
	// tags are discarded until it returns to zero.
	dropDepth := 0
	var dropTag string

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return domain.SanitizedHTML(buf.String())
		}

		switch tt {
		case html.TextToken:
			if dropDepth == 0 {
				buf.Write(z.Raw())
			}

		case html.CommentToken, html.DoctypeToken:
			// stripped

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := strings.ToLower(string(name))

			if dropDepth > 0 {
				if tag == dropTag && tt == html.StartTagToken {
					dropDepth++
				}
				continue
			}
			if dropContentTags[tag] {
				if tt == html.StartTagToken && !voidTags[tag] {
					dropTag = tag
					dropDepth = 1
				}
				continue
			}
			if !allowedTags[tag] {
				// tag stripped, content kept
				continue
			}

			var attrs []htmlAttr
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				attrs = append(attrs, htmlAttr{Key: strings.ToLower(string(key)), Val: string(val)})
			}
			writeTag(&buf, tag, sanitizeAttrs(tag, attrs), tt == html.SelfClosingTagToken)

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))

			if dropDepth > 0 {
				if tag == dropTag {
					dropDepth--
				}
				continue
			}
			if allowedTags[tag] {
				buf.WriteString("</")
				buf.WriteString(tag)
				buf.WriteByte('>')
			}
		}
	}
}

var voidTags = map[string]bool{
	"br": true, "hr": true, "img": true, "embed": true,
}

func sanitizeAttrs(tag string, attrs []htmlAttr) []htmlAttr {
	kept := attrs[:0]
	for _, a := range attrs {
		if !attrAllowed(tag, a.Key) {
			continue
		}
		if urlAttrs[a.Key] {
			if !safeURL(a.Val) {
				continue
			}
		}
		if a.Key == "style" {
			a.Val = sanitizeStyle(a.Val)
			if a.Val == "" {
				continue
			}
		}
		kept = append(kept, a)
	}
	return kept
}

func attrAllowed(tag, key string) bool {
	if key == "class" {
		return true
	}
	if strings.HasPrefix(key, "on") {
		return false
	}
	return allowedAttrs[tag][key]
}

// safeURL permits http(s) URLs and local paths. javascript:, data:,
// file: and unresolved cid: references are all rejected here.
func safeURL(raw string) bool {
	v := strings.TrimFunc(raw, func(r rune) bool {
		return r <= ' '
	})
	if v == "" {
		return false
	}

	// Protocol-relative URLs inherit whatever scheme the page was
	// served with and point at an arbitrary host.
	if strings.HasPrefix(v, "//") {
		return false
	}

	// A colon before any path/query delimiter marks a scheme.
	if i := strings.IndexAny(v, ":/?#"); i >= 0 && v[i] == ':' {
		scheme := strings.ToLower(v[:i])
		return scheme == "http" || scheme == "https"
	}
	return true
}

// sanitizeStyle keeps only allow-listed CSS declarations with benign
// values, returning the surviving declarations joined back together.
func sanitizeStyle(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		prop, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)

		if !allowedStyleProps[prop] {
			continue
		}
		if dangerousStyleValue.MatchString(value) {
			continue
		}
		if (prop == "color" || prop == "background-color") && !colorValue.MatchString(value) {
			continue
		}
		kept = append(kept, prop+": "+value)
	}
	return strings.Join(kept, "; ")
}
