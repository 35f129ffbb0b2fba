// Copyright 2025 Wyrd Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merkle

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte keccak256 digest. The on-chain program hashes with
// keccak256, so every off-chain hash must mirror it exactly.
type Hash [32]byte

// String returns the hex representation of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the hash as a byte slice
func (h Hash) Bytes() []byte {
	return h[:]
}

// HashFromBytes converts a 32-byte slice into a Hash
func HashFromBytes(data []byte) (Hash, error) {
	var h Hash
	if len(data) != len(h) {
		return h, fmt.Errorf("expected %d bytes, got %d", len(h), len(data))
	}
	copy(h[:], data)
	return h, nil
}

// HashFromHex converts a hex string into a Hash
func HashFromHex(s string) (Hash, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(data)
}

// Keccak hashes the concatenation of parts with keccak256
func Keccak(parts ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// LeafVersion selects the leaf hashing scheme for a claim tree
type LeafVersion uint8

const (
	// LeafV0 hashes (claimer, index, amount, id) with no domain separation
	LeafV0 LeafVersion = 0
	// LeafV1 binds the leaf to a channel subject and epoch, preventing
	// proof replay across channels or epochs
	LeafV1 LeafVersion = 1
)

func (v LeafVersion) String() string {
	switch v {
	case LeafV0:
		return "v0"
	case LeafV1:
		return "v1"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(v))
	}
}

// LeafVersionFromString parses a leaf version name
func LeafVersionFromString(s string) (LeafVersion, error) {
	switch s {
	case "v0":
		return LeafV0, nil
	case "v1", "":
		return LeafV1, nil
	default:
		return 0, fmt.Errorf("unknown leaf version: %s", s)
	}
}

const (
	leafDomainPrefix    = "leaf:"
	subjectDomainPrefix = "channel:"
)

// Claim is a single claimable allocation committed to by a claim tree
type Claim struct {
	// Claimer is the 32-byte public key of the claiming wallet
	Claimer [32]byte
	// Index is the claim bitmap index, assigned at epoch seal time
	Index uint32
	// Amount is the token amount in base units
	Amount uint64
	// ID is an opaque claim identifier included in the leaf hash
	ID string
}

// Subject derives the 32-byte channel subject used by v1 leaves and for
// ledger account derivation. The channel name is lowercased first so the
// subject is stable across capitalization differences in chat sources.
func Subject(namespace string, channel string) Hash {
	name := strings.ToLower(channel)
	if namespace != "" {
		name = namespace + ":" + name
	}
	return Keccak([]byte(subjectDomainPrefix), []byte(name))
}

// LeafHashV0 computes the original (v0) leaf hash:
// keccak(claimer || u32le(index) || u64le(amount) || id)
func LeafHashV0(claim Claim) Hash {
	var idx [4]byte
	var amt [8]byte
	binary.LittleEndian.PutUint32(idx[:], claim.Index)
	binary.LittleEndian.PutUint64(amt[:], claim.Amount)
	return Keccak(claim.Claimer[:], idx[:], amt[:], []byte(claim.ID))
}

// LeafHashV1 computes the domain-separated (v1) leaf hash:
// keccak("leaf:" || subject || u64le(epoch) || claimer || u32le(index) || u64le(amount) || id)
func LeafHashV1(subject Hash, epoch uint64, claim Claim) Hash {
	var epochBytes [8]byte
	var idx [4]byte
	var amt [8]byte
	binary.LittleEndian.PutUint64(epochBytes[:], epoch)
	binary.LittleEndian.PutUint32(idx[:], claim.Index)
	binary.LittleEndian.PutUint64(amt[:], claim.Amount)
	return Keccak(
		[]byte(leafDomainPrefix),
		subject[:],
		epochBytes[:],
		claim.Claimer[:],
		idx[:],
		amt[:],
		[]byte(claim.ID),
	)
}

// LeafHash computes the leaf hash for a claim using the given scheme version.
// The subject and epoch arguments are ignored for v0.
func LeafHash(
	version LeafVersion,
	subject Hash,
	epoch uint64,
	claim Claim,
) (Hash, error) {
	switch version {
	case LeafV0:
		return LeafHashV0(claim), nil
	case LeafV1:
		return LeafHashV1(subject, epoch, claim), nil
	default:
		return Hash{}, fmt.Errorf("unknown leaf version: %d", version)
	}
}
