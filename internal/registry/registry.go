// Package registry maps an assigned public port, and a node id, to
// the live QUIC connection handle serving it.
package registry

import (
	"sync"

	"reversetunnel/internal/quictransport"
)

// Entry is one live session's published state.
type Entry struct {
	Conn   quictransport.Connection
	NodeID string
}

// NodeRegistry is a concurrent map keyed by port, with a secondary
// lookup by node id done via linear scan — acceptable for the small
// fleet sizes this design targets. Multiple readers, serialized
// writers.
type NodeRegistry struct {
	mu     sync.RWMutex
	byPort map[int]Entry
}

// New returns an empty registry.
func New() *NodeRegistry {
	return &NodeRegistry{byPort: make(map[int]Entry)}
}

// Insert publishes a connection under the given port.
func (r *NodeRegistry) Insert(port int, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPort[port] = entry
}

// Get looks up the entry published under port.
func (r *NodeRegistry) Get(port int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byPort[port]
	return e, ok
}

// FindByNodeID scans for the entry belonging to nodeID, returning the
// port it was published under.
func (r *NodeRegistry) FindByNodeID(nodeID string) (port int, entry Entry, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p, e := range r.byPort {
		if e.NodeID == nodeID {
			return p, e, true
		}
	}
	return 0, Entry{}, false
}

// Remove drops the entry published under port. Removing the registry
// entry does not close the underlying QUIC connection: the entry is
// only a shared handle, the connection's lifetime is owned by its
// SessionManager task.
func (r *NodeRegistry) Remove(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPort, port)
}
