// Package hashchain implements the Lamport-style reverse hash chain
// authentication scheme. A node proves its
// identity by presenting the preimage of a stored anchor; a captured
// login transcript can never be replayed, because the anchor always
// moves one step further back along the chain.
package hashchain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"reversetunnel/internal/domain"
)

// DefaultChainLength is the default chain length L.
const DefaultChainLength = 100

var (
	// ErrPreimageDecode covers a preimage that is not valid hex or
	// not exactly 32 bytes once decoded.
	ErrPreimageDecode = errors.New("hashchain: invalid preimage hex")
	// ErrPreimageMismatch covers a syntactically valid preimage that
	// does not hash to the stored anchor.
	ErrPreimageMismatch = errors.New("hashchain: preimage does not match stored anchor")
)

// H is the chain's hash function: BLAKE3 with a 32-byte digest.
func H(data []byte) domain.Digest {
	return domain.Digest(blake3.Sum256(data))
}

// Iterate computes H^count(seed): H applied to seed, count times.
// Iterate(seed, 1) == H(seed[:]).
func Iterate(seed [32]byte, count int) domain.Digest {
	cur := domain.Digest(seed)
	for i := 0; i < count; i++ {
		cur = H(cur[:])
	}
	return cur
}

// NewSeed draws a fresh 32-byte seed from a cryptographically secure
// source.
func NewSeed() ([32]byte, error) {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("hashchain: generate seed: %w", err)
	}
	return s, nil
}

// Node is one tunnel client's hash-chain authentication state. The
// embedded mutex serializes concurrent Verify calls against the same
// node, so two racing preimages can never both commit within one
// chain step.
type Node struct {
	NodeID       string
	ChainLength  int
	CurrentIndex int
	Anchor       domain.Digest
	CreatedAt    time.Time
	LastLogin    *time.Time

	seed [32]byte
	mu   sync.Mutex
}

// NewNode creates a node record with a fresh random seed: anchor =
// H^L(seed), current_index = L-1.
func NewNode(nodeID string, chainLength int) (*Node, error) {
	if chainLength <= 0 {
		chainLength = DefaultChainLength
	}
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return newNodeFromSeed(nodeID, seed, chainLength), nil
}

// newNodeFromSeed builds a fresh Node (index L-1, anchor H^L(seed))
// deterministically from a known seed; used by NewNode.
func newNodeFromSeed(nodeID string, seed [32]byte, chainLength int) *Node {
	return &Node{
		NodeID:       nodeID,
		ChainLength:  chainLength,
		CurrentIndex: chainLength - 1,
		Anchor:       Iterate(seed, chainLength),
		CreatedAt:    time.Now(),
		seed:         seed,
	}
}

// NewNodeFromSeed reconstructs a node record at an arbitrary point in
// its chain from a known seed and current index. Used by tests that
// need a reproducible chain and by any future
// restore-from-persistence path.
func NewNodeFromSeed(nodeID string, seed [32]byte, chainLength, currentIndex int) *Node {
	return &Node{
		NodeID:       nodeID,
		ChainLength:  chainLength,
		CurrentIndex: currentIndex,
		Anchor:       Iterate(seed, currentIndex+1),
		CreatedAt:    time.Now(),
		seed:         seed,
	}
}

// Result is the outcome of a successful Verify call.
type Result struct {
	// Rotated is true when chain exhaustion triggered a reseed.
	Rotated bool
	// NewSeedHex is populated only when Rotated is true.
	NewSeedHex string
}

// Verify checks a presented preimage against this
// node's current anchor. A failed attempt is side-effect-free: it
// never touches CurrentIndex, Anchor, or LastLogin.
func (n *Node) Verify(preimageHex string) (Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	preimage, err := decode32(preimageHex)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPreimageDecode, err)
	}

	candidate := H(preimage[:])
	if !domain.ConstantTimeEqualHex(candidate.ToHexString(), n.Anchor) {
		return Result{}, ErrPreimageMismatch
	}

	// The presented preimage is now consumed and becomes the next
	// anchor; it hashes forward to the anchor just replaced, so a
	// replayed transcript can never be accepted again.
	n.Anchor = domain.Digest(preimage)
	n.CurrentIndex--
	now := time.Now()
	n.LastLogin = &now

	if n.CurrentIndex >= 0 {
		return Result{}, nil
	}

	// The preimage just consumed was H^0(seed), the seed itself: the
	// chain is spent and the record reseeds before the lock releases,
	// so the index is never observed negative.

	newSeed, err := NewSeed()
	if err != nil {
		return Result{}, fmt.Errorf("hashchain: rotate: %w", err)
	}
	n.seed = newSeed
	n.CurrentIndex = n.ChainLength - 1
	n.Anchor = Iterate(newSeed, n.ChainLength)
	n.CreatedAt = now

	return Result{Rotated: true, NewSeedHex: hex.EncodeToString(newSeed[:])}, nil
}

// SeedHex returns the node's current seed as lower-case hex, the form
// PortPool.AssignStatic consumes for static port derivation.
func (n *Node) SeedHex() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return hex.EncodeToString(n.seed[:])
}

// Snapshot is a lock-free, point-in-time copy of a Node's fields,
// safe to log, serialize, or hand to the admin collaborator's
// view/list operations.
type Snapshot struct {
	NodeID       string
	SeedHex      string
	ChainLength  int
	CurrentIndex int
	AnchorHex    string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Snapshot copies the node's current state under lock.
func (n *Node) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		NodeID:       n.NodeID,
		SeedHex:      hex.EncodeToString(n.seed[:]),
		ChainLength:  n.ChainLength,
		CurrentIndex: n.CurrentIndex,
		AnchorHex:    n.Anchor.ToHexString(),
		CreatedAt:    n.CreatedAt,
		LastLogin:    n.LastLogin,
	}
}

func decode32(s string) ([32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}
