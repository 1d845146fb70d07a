package durable

import (
	"path"
	"strings"
)

// DefaultDisposablePatterns name the temporary and cache namespaces that
// emergency cleanup may delete without losing user work.
var DefaultDisposablePatterns = []string{
	"inkwell_temp_*",
	"inkwell_cache_*",
	"temp_*",
	"cache_*",
}

// KeyMatcher checks storage keys against disposable patterns.
// Patterns containing glob metacharacters use path.Match; anything else is a
// plain prefix.
type KeyMatcher struct {
	globs    []string
	prefixes []string
}

// NewKeyMatcher creates a KeyMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewKeyMatcher(rawPatterns []string) *KeyMatcher {
	m := &KeyMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.ContainsAny(raw, "*?[") {
			m.globs = append(m.globs, raw)
		} else {
			m.prefixes = append(m.prefixes, raw)
		}
	}
	return m
}

// Match reports whether key belongs to a disposable namespace.
func (m *KeyMatcher) Match(key string) bool {
	for _, p := range m.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	for _, g := range m.globs {
		matched, err := path.Match(g, key)
		if err != nil {
			// Bad pattern: skip rather than fail cleanup.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
