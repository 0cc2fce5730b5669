// Package provider fetches news articles from external sources and
// normalizes them into the common domain.Article shape. Both providers
// derive article ids the same way (domain.ArticleID), so the same story
// dedups and cache-hits identically no matter which feed carried it.
package provider

import (
	"html"
	"strings"
	"time"
)

// cleanHTML strips tags, collapses whitespace and unescapes entities.
// Good enough for RSS description snippets; not a sanitizer.
func cleanHTML(in string) string {
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	collapsed := strings.Join(strings.Fields(b.String()), " ")
	return strings.TrimSpace(html.UnescapeString(collapsed))
}

// parseRFC2822 parses RSS pubDate values.
func parseRFC2822(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseISOTime parses RFC 3339-ish timestamps; a value without a zone is
// read as UTC so aware and naive instants never mix downstream.
func parseISOTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	aware := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range aware {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	naive := []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range naive {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
