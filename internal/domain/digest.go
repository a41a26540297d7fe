// Package domain holds the small value types shared across the
// tunnel core: fixed-length hash digests and their hex
// encode/decode and comparison helpers.
package domain

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// DigestSize is the output length, in bytes, of the hash used
// throughout the hash chain and static port derivation (BLAKE3-256).
const DigestSize = 32

// ErrInvalidDigest is returned when a hex string does not decode to
// exactly DigestSize bytes.
var ErrInvalidDigest = errors.New("invalid digest")

// Digest is a fixed-length hash output, stored as raw bytes and
// exchanged on the wire as lower-case hex.
type Digest [DigestSize]byte

// ToHexString returns the lower-case hex encoding of d.
func (d Digest) ToHexString() string {
	return hex.EncodeToString(d[:])
}

// Equal reports whether two digests are identical. Plain comparison
// is fine here: this is used for stored-anchor equality, not for the
// constant-time preimage check (see ConstantTimeEqualHex below).
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// DigestFromHex decodes a lower-case (or upper-case) hex string into
// a Digest. Wrong length is an error, no silent truncation or
// padding.
func DigestFromHex(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != DigestSize {
		return Digest{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidDigest, DigestSize, len(raw))
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// ConstantTimeEqualHex compares a candidate hex string against the
// hex encoding of want in constant time, guarding against timing
// side-channels on the hash-chain preimage check.
func ConstantTimeEqualHex(candidateHex string, want Digest) bool {
	wantHex := want.ToHexString()
	if len(candidateHex) != len(wantHex) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidateHex), []byte(wantHex)) == 1
}
