// Package pathmap translates between local and remote source paths using
// longest-prefix matching against a configured mapping table. Paths that
// match no rule pass through unchanged.
package pathmap

import (
	"sort"
	"strings"
)

// Rule maps one local path prefix to its remote counterpart.
type Rule struct {
	Local  string
	Remote string
}

// Mapper performs bidirectional prefix translation.
type Mapper struct {
	rules []Rule
}

// New creates a mapper. Rules are matched longest local prefix first for
// ToRemote and longest remote prefix first for ToLocal.
func New(rules []Rule) *Mapper {
	cleaned := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Local = strings.TrimSuffix(r.Local, "/")
		r.Remote = strings.TrimSuffix(r.Remote, "/")
		if r.Local == "" || r.Remote == "" {
			continue
		}
		cleaned = append(cleaned, r)
	}
	return &Mapper{rules: cleaned}
}

// ToRemote rewrites a local path into the remote namespace.
func (m *Mapper) ToRemote(local string) string {
	return translate(local, m.rules, func(r Rule) (string, string) { return r.Local, r.Remote })
}

// ToLocal rewrites a remote path into the local namespace.
func (m *Mapper) ToLocal(remote string) string {
	return translate(remote, m.rules, func(r Rule) (string, string) { return r.Remote, r.Local })
}

// translate applies the longest matching prefix at a path-segment boundary.
func translate(path string, rules []Rule, pick func(Rule) (from, to string)) string {
	type match struct {
		from, to string
	}
	var matches []match
	for _, r := range rules {
		from, to := pick(r)
		if path == from || strings.HasPrefix(path, from+"/") {
			matches = append(matches, match{from: from, to: to})
		}
	}
	if len(matches) == 0 {
		return path
	}
	sort.Slice(matches, func(i, j int) bool {
		return len(matches[i].from) > len(matches[j].from)
	})
	best := matches[0]
	return best.to + strings.TrimPrefix(path, best.from)
}
