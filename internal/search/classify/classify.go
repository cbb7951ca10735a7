// Package classify turns raw provider dataset items into canonical learning
// content results. Provider payloads are messy: field names vary, rows may
// be incomplete, and URLs arrive unvetted, so everything here degrades to
// skipping or a fallback value instead of failing.
package classify

import (
	"net/url"
	"strings"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// platform maps a host (and its subdomains) to a content type and a display
// source.
type platform struct {
	host   string
	kind   domain.ResultType
	source string
}

var platforms = []platform{
	{"coursera.org", domain.ResultTypeCourse, "Coursera"},
	{"udemy.com", domain.ResultTypeCourse, "Udemy"},
	{"edx.org", domain.ResultTypeCourse, "edX"},
	{"khanacademy.org", domain.ResultTypeCourse, "Khan Academy"},
	{"pluralsight.com", domain.ResultTypeCourse, "Pluralsight"},
	{"youtube.com", domain.ResultTypeVideo, "YouTube"},
	{"youtu.be", domain.ResultTypeVideo, "YouTube"},
	{"vimeo.com", domain.ResultTypeVideo, "Vimeo"},
	{"medium.com", domain.ResultTypeArticle, "Medium"},
	{"dev.to", domain.ResultTypeArticle, "DEV Community"},
	{"freecodecamp.org", domain.ResultTypeArticle, "freeCodeCamp"},
	{"wikipedia.org", domain.ResultTypeArticle, "Wikipedia"},
}

// Classify matches a result URL against the known platforms and returns its
// content type and source. Unmatched URLs fall back to OTHER with the host
// (leading "www." stripped) as the source.
func Classify(rawURL string) (domain.ResultType, string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return domain.ResultTypeOther, ""
	}

	host := strings.ToLower(u.Hostname())
	for _, p := range platforms {
		if host == p.host || strings.HasSuffix(host, "."+p.host) {
			return p.kind, p.source
		}
	}
	return domain.ResultTypeOther, strings.TrimPrefix(host, "www.")
}

// Transform filters raw dataset items down to well-formed records and
// classifies each one. An item needs a non-empty title and a valid http(s)
// URL to survive; input order is preserved.
func Transform(items []map[string]interface{}) []domain.Result {
	results := make([]domain.Result, 0, len(items))
	for _, item := range items {
		title := firstString(item, "title", "name")
		rawURL := firstString(item, "url", "link")
		if title == "" || !usableURL(rawURL) {
			continue
		}

		kind, source := Classify(rawURL)
		results = append(results, domain.Result{
			Title:       title,
			URL:         rawURL,
			Description: firstString(item, "description", "snippet", "text"),
			Type:        kind,
			Source:      source,
		})
	}
	return results
}

// firstString returns the first candidate field holding a non-blank string.
func firstString(item map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := item[key]; ok {
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return ""
}

func usableURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}
