package ingest

import (
	"net/url"
	"strings"

	"ingest_server/core/domain"
	"ingest_server/pkg/logger"
)

// LinkUnwrapper resolves redirect-wrapped anchor hrefs to their real
// destinations. It runs before sanitization so the sanitizer never has
// to special-case redirector hosts.
type LinkUnwrapper struct {
	hosts []string
	param string
	log   *logger.Logger
}

func NewLinkUnwrapper(redirectorHosts []string, destParam string) *LinkUnwrapper {
	hosts := make([]string, 0, len(redirectorHosts))
	for _, h := range redirectorHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &LinkUnwrapper{
		hosts: hosts,
		param: destParam,
		log:   logger.WithField("component", "link_unwrapper"),
	}
}

// Unwrap rewrites every anchor href that matches a configured
// redirector host and carries the destination query parameter.
// Non-matching links pass through unchanged.
func (u *LinkUnwrapper) Unwrap(raw domain.RawHTML) domain.UnwrappedHTML {
	if len(u.hosts) == 0 {
		return domain.UnwrappedHTML(raw)
	}

	out := rewriteTagAttrs(string(raw), func(tag string, attrs []htmlAttr) bool {
		if tag != "a" {
			return false
		}
		changed := false
		for i := range attrs {
			if !strings.EqualFold(attrs[i].Key, "href") {
				continue
			}
			if dest, ok := u.unwrapURL(attrs[i].Val); ok {
				attrs[i].Val = dest
				changed = true
			}
		}
		return changed
	})
	return domain.UnwrappedHTML(out)
}

// unwrapURL returns the decoded destination when href points at a
// redirector host, false otherwise.
func (u *LinkUnwrapper) unwrapURL(href string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil || parsed.Host == "" {
		return "", false
	}

	host := strings.ToLower(parsed.Hostname())
	if !u.isRedirectorHost(host) {
		return "", false
	}

	dest := parsed.Query().Get(u.param)
	if dest == "" {
		return "", false
	}
	if _, err := url.Parse(dest); err != nil {
		u.log.WithField("href", href).Warn("redirector destination is not a valid URL, leaving wrapped")
		return "", false
	}
	return dest, true
}

func (u *LinkUnwrapper) isRedirectorHost(host string) bool {
	for _, h := range u.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
