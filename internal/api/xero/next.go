package xero

import (
	"net/url"
	"strings"
)

// MaxNextLength matches the pending_flows.next_page column.
const MaxNextLength = 255

// SafeNext returns next when it is a same-site absolute path that fits the
// next_page column, and "/" otherwise, so the post-link redirect cannot be
// pointed at another host.
func SafeNext(next string) string {
	if next == "" || len(next) > MaxNextLength || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	for i := 0; i < len(next); i++ {
		if next[i] < 0x20 || next[i] == 0x7f || next[i] == '\\' {
			return "/"
		}
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "/"
	}
	return next
}
