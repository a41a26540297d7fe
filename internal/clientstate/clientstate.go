// Package clientstate implements the edge-node side of the hash
// chain: deriving the next preimage to send, persisting
// (node_id, seed, current_index, chain_length) to a TOML file between
// runs, and absorbing a server-issued ROTATE when the chain runs
// out.
package clientstate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"reversetunnel/internal/hashchain"
)

// ErrChainExhausted is returned by NextPreimage when CurrentIndex has
// dropped below 0 without a rotation having been applied: the login
// at index 0 (preimage H^0(seed), the seed itself) is the last one the
// chain allows, and its reply carries the ROTATE line that resets the
// index.
var ErrChainExhausted = errors.New("clientstate: chain exhausted, awaiting rotation")

// State is the TOML-persisted client record.
type State struct {
	NodeID       string `toml:"node_id"`
	SeedHex      string `toml:"seed"`
	CurrentIndex int    `toml:"current_index"`
	ChainLength  int    `toml:"chain_length"`
}

// Load reads a client state file from path.
func Load(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("clientstate: read %q: %w", path, err)
	}
	var s State
	if err := toml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("clientstate: parse %q: %w", path, err)
	}
	return &s, nil
}

// Save writes s to path as TOML, overwriting any existing file.
func (s *State) Save(path string) error {
	raw, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("clientstate: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("clientstate: write %q: %w", path, err)
	}
	return nil
}

// New builds a fresh client state for a node just created by the
// admin collaborator, given the seed and chain length the server
// used to construct that node's initial anchor.
func New(nodeID string, seed [32]byte, chainLength int) *State {
	return &State{
		NodeID:       nodeID,
		SeedHex:      hex.EncodeToString(seed[:]),
		CurrentIndex: chainLength - 1,
		ChainLength:  chainLength,
	}
}

// NextPreimage computes H^i(seed) for the stored CurrentIndex — the
// value to send as the AUTH line's preimage_hex for this login.
func (s *State) NextPreimage() (string, error) {
	if s.CurrentIndex < 0 {
		return "", ErrChainExhausted
	}
	seed, err := decodeSeed(s.SeedHex)
	if err != nil {
		return "", err
	}
	return hashchain.Iterate(seed, s.CurrentIndex).ToHexString(), nil
}

// Advance decrements CurrentIndex after a successful login that did
// not rotate.
func (s *State) Advance() {
	s.CurrentIndex--
}

// Rotate replaces the stored seed and resets CurrentIndex to L-1,
// applied when the server's response carries a ROTATE line.
func (s *State) Rotate(newSeedHex string) {
	s.SeedHex = newSeedHex
	s.CurrentIndex = s.ChainLength - 1
}

func decodeSeed(seedHex string) ([32]byte, error) {
	var seed [32]byte
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return seed, fmt.Errorf("clientstate: invalid seed hex: %w", err)
	}
	if len(raw) != 32 {
		return seed, fmt.Errorf("clientstate: seed must decode to 32 bytes, got %d", len(raw))
	}
	copy(seed[:], raw)
	return seed, nil
}
