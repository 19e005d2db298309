package gatekeeper

import (
	"fmt"
	"sort"
	"strings"
)

// CSRFPolicy is carried on each route entry so the exemption list cannot
// drift apart from the access table.
type CSRFPolicy string

const (
	// CSRFEnforced means the gatekeeper validates the token on mutating calls.
	CSRFEnforced CSRFPolicy = "enforced"
	// CSRFExempt skips validation entirely.
	CSRFExempt CSRFPolicy = "exempt"
	// CSRFSelfHandled skips the gatekeeper's check because the route handler
	// validates the token itself with its own extraction rules.
	CSRFSelfHandled CSRFPolicy = "selfHandled"
)

// Entry maps a URL path prefix to its access policy. An empty Roles slice
// means publicly reachable: no auth check, but mutating API calls still flow
// through CSRF and rate-limit wrapping.
type Entry struct {
	Prefix string
	Roles  []string
	API    bool
	CSRF   CSRFPolicy
	// TenantOwned marks the path segment immediately after Prefix as a
	// tenant id; a tenant caller may only reach their own id.
	TenantOwned bool
}

// Table is the static route access table: an ordered list checked
// longest-prefix-first, immutable after construction.
type Table struct {
	entries []Entry
}

func NewTable(entries []Entry) (*Table, error) {
	seen := map[string]struct{}{}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		prefix := strings.TrimSpace(e.Prefix)
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must start with /", e.Prefix)
		}
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			prefix = "/"
		}
		if _, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("duplicate route prefix %q", prefix)
		}
		seen[prefix] = struct{}{}
		if e.CSRF == "" {
			e.CSRF = CSRFEnforced
		}
		e.Prefix = prefix
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Prefix) > len(out[j].Prefix)
	})
	return &Table{entries: out}, nil
}

// MustTable panics on an invalid table; route tables are literals wired at
// startup, so a bad one is a programming error.
func MustTable(entries []Entry) *Table {
	t, err := NewTable(entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the most specific entry for path: exact match first, then
// the longest prefix for which path continues with a "/". Query strings must
// already be stripped (use r.URL.Path). The second return is false when no
// entry matches, meaning the path is unrestricted.
func (t *Table) Lookup(path string) (Entry, bool) {
	if path == "" {
		path = "/"
	}
	for _, e := range t.entries {
		if path == e.Prefix {
			return e, true
		}
	}
	for _, e := range t.entries {
		if e.Prefix == "/" || strings.HasPrefix(path, e.Prefix+"/") {
			return e, true
		}
	}
	return Entry{}, false
}

// ownedSegment extracts the path segment following the entry's prefix, the
// tenant id for TenantOwned entries. Empty for collection paths.
func (e Entry) ownedSegment(path string) string {
	rest := strings.TrimPrefix(path, e.Prefix)
	rest = strings.TrimPrefix(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
