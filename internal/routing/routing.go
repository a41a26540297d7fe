// Package routing implements the virtual-host + longest-prefix-path
// routing table: per host, an ordered rule list plus a global default
// backend.
package routing

import (
	"sort"
	"strings"
	"sync"
)

// Rule is one (path prefix -> backend) mapping under a host.
type Rule struct {
	PathPrefix string
	BackendID  string
}

// RoutingTable maps Host header + request path to a backend id
// (`<node_id>:<logical_port>`). Readers dominate; updates are rare
// and atomic per (host, path_prefix) pair.
type RoutingTable struct {
	mu             sync.RWMutex
	rules          map[string][]Rule
	defaultBackend string
}

// New creates a routing table with the given global default backend.
func New(defaultBackend string) *RoutingTable {
	return &RoutingTable{
		rules:          make(map[string][]Rule),
		defaultBackend: defaultBackend,
	}
}

// InsertRule appends a (path_prefix, backend_id) rule under host.
func (rt *RoutingTable) InsertRule(host, pathPrefix, backendID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rules[host] = append(rt.rules[host], Rule{PathPrefix: pathPrefix, BackendID: backendID})
}

// RemoveRule removes every rule under host matching pathPrefix.
func (rt *RoutingTable) RemoveRule(host, pathPrefix string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	existing := rt.rules[host]
	kept := make([]Rule, 0, len(existing))
	for _, r := range existing {
		if r.PathPrefix != pathPrefix {
			kept = append(kept, r)
		}
	}
	rt.rules[host] = kept
}

// UpdateBackend rewrites the backend of every rule matching
// (host, pathPrefix).
func (rt *RoutingTable) UpdateBackend(host, pathPrefix, newBackend string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rules := rt.rules[host]
	for i := range rules {
		if rules[i].PathPrefix == pathPrefix {
			rules[i].BackendID = newBackend
		}
	}
}

// SetDefaultBackend replaces the global fallback backend.
func (rt *RoutingTable) SetDefaultBackend(backendID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.defaultBackend = backendID
}

// Lookup returns the backend for host+path: the longest path_prefix
// that prefixes path, descending-length stable sort so ties resolve
// to the first inserted rule; falls back to the default backend when
// the host is unknown or no prefix matches, so a missing rule never
// turns into an error.
func (rt *RoutingTable) Lookup(host, path string) string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	rules := rt.rules[host]
	if len(rules) == 0 {
		return rt.defaultBackend
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].PathPrefix) > len(sorted[j].PathPrefix)
	})

	for _, r := range sorted {
		if strings.HasPrefix(path, r.PathPrefix) {
			return r.BackendID
		}
	}
	return rt.defaultBackend
}
