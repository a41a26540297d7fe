package directory

import "reversetunnel/internal/hashchain"

// AdminFacade exposes the NodeDirectory operations an admin
// interface's line protocol (add|create, remove|delete|destroy, view,
// list) would invoke. It is a typed in-process collaborator, not a
// line-protocol server: the core depends on this contract, never on
// the REPL itself.
type AdminFacade struct {
	dir *NodeDirectory
}

// NewAdminFacade wraps a NodeDirectory for admin-style access.
func NewAdminFacade(dir *NodeDirectory) *AdminFacade {
	return &AdminFacade{dir: dir}
}

// CreateNode corresponds to the admin "add|create <id>" command.
func (a *AdminFacade) CreateNode(nodeID string, chainLength int) (hashchain.Snapshot, error) {
	n, err := a.dir.CreateNode(nodeID, chainLength)
	if err != nil {
		return hashchain.Snapshot{}, err
	}
	return n.Snapshot(), nil
}

// RemoveNode corresponds to "remove|delete|destroy <id>".
func (a *AdminFacade) RemoveNode(nodeID string) error {
	return a.dir.RemoveNode(nodeID)
}

// ViewNode corresponds to "view <id>".
func (a *AdminFacade) ViewNode(nodeID string) (hashchain.Snapshot, error) {
	return a.dir.ViewNode(nodeID)
}

// ListNodes corresponds to "list".
func (a *AdminFacade) ListNodes() []hashchain.Snapshot {
	return a.dir.ListNodes()
}
