package ingest

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// trackingPrefixes mark query parameters that vary per share.
var trackingPrefixes = []string{"utm", "fb"}

// NormalizeURL canonicalizes a shared link: scheme and host are lowercased,
// default ports and fragments dropped, and query parameters starting with a
// tracking prefix removed. Parameter order is otherwise preserved.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	clean, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return raw
	}
	u, err := url.Parse(clean)
	if err != nil || u.RawQuery == "" {
		return clean
	}

	kept := make([]string, 0, 4)
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" || isTrackingParam(part) {
			continue
		}
		kept = append(kept, part)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

func isTrackingParam(part string) bool {
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(part, p) {
			return true
		}
	}
	return false
}

// isFacebookLink reports whether a link points back at facebook.com, in
// which case it identifies the post rather than shared content.
func isFacebookLink(link string) bool {
	l := strings.ToLower(link)
	return strings.Contains(l, "://www.facebook.com/") || strings.Contains(l, "://facebook.com/")
}

// externalLink picks the shared link of a post.
func externalLink(finalLink, link string) string {
	if finalLink != "" {
		return NormalizeURL(finalLink)
	}
	if link != "" && !isFacebookLink(link) {
		return NormalizeURL(link)
	}
	return ""
}

// parseCount parses CrowdTangle counts such as "1,234" or "\"98\"".
// Empty values are zero.
func parseCount(s string) (int64, bool) {
	s = strings.TrimSpace(strings.NewReplacer(",", "", `"`, "").Replace(s))
	if s == "" {
		return 0, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}
