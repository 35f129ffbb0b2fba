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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// OddPolicy controls what happens to a lone node at the end of a level
// when pairing up nodes during tree construction
type OddPolicy uint8

const (
	// OddPolicyDuplicate hashes the lone node with itself
	OddPolicyDuplicate OddPolicy = 0
	// OddPolicyPromote carries the lone node up unchanged. Proofs for
	// leaves whose path crosses a promoted node omit a sibling at that
	// level.
	OddPolicyPromote OddPolicy = 1
)

func (p OddPolicy) String() string {
	switch p {
	case OddPolicyDuplicate:
		return "duplicate"
	case OddPolicyPromote:
		return "promote"
	default:
		return fmt.Sprintf("unknown (%d)", uint8(p))
	}
}

// OddPolicyFromString parses an odd-node policy name
func OddPolicyFromString(s string) (OddPolicy, error) {
	switch s {
	case "duplicate":
		return OddPolicyDuplicate, nil
	case "promote":
		return OddPolicyPromote, nil
	default:
		return 0, fmt.Errorf("unknown odd-node policy: %q", s)
	}
}

// ErrEmptyTree is returned when building a tree with no leaves
var ErrEmptyTree = errors.New("cannot build tree with no leaves")

// Tree is a binary commitment tree using sorted-pair keccak256 hashing.
// Within each pair the two nodes are ordered by raw byte comparison
// before hashing, making the combine function commutative. The odd-node
// policy is a property of the tree: a proof generated under one policy
// will not verify against a root built under the other.
type Tree struct {
	levels [][]Hash
	policy OddPolicy
}

// combine hashes an ordered pair: keccak(min(a,b) || max(a,b))
func combine(a Hash, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Keccak(a[:], b[:])
}

// NewTree builds a tree over the given leaf hashes using the given
// odd-node policy. The leaf slice is copied.
func NewTree(leaves []Hash, policy OddPolicy) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	switch policy {
	case OddPolicyDuplicate, OddPolicyPromote:
	default:
		return nil, fmt.Errorf("unknown odd-node policy: %d", policy)
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	levels := [][]Hash{level}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, combine(level[i], level[i+1]))
				continue
			}
			// Lone node at the end of the level
			if policy == OddPolicyDuplicate {
				next = append(next, combine(level[i], level[i]))
			} else {
				next = append(next, level[i])
			}
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{
		levels: levels,
		policy: policy,
	}, nil
}

// Root returns the tree's root hash
func (t *Tree) Root() Hash {
	return t.levels[len(t.levels)-1][0]
}

// Policy returns the tree's odd-node policy
func (t *Tree) Policy() OddPolicy {
	return t.policy
}

// LeafCount returns the number of leaves in the tree
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Depth returns the number of levels, including the leaf level
func (t *Tree) Depth() int {
	return len(t.levels)
}

// Leaf returns the leaf hash at the given index
func (t *Tree) Leaf(index int) (Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return Hash{}, fmt.Errorf(
			"leaf index %d out of range (%d leaves)",
			index,
			len(t.levels[0]),
		)
	}
	return t.levels[0][index], nil
}

// Proof returns the sibling-hash path for the leaf at the given index,
// from the leaf level up to (but not including) the root. Under the
// duplicate policy a lone node contributes itself as its own sibling;
// under the promote policy the level is skipped.
func (t *Tree) Proof(index int) ([]Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, fmt.Errorf(
			"leaf index %d out of range (%d leaves)",
			index,
			len(t.levels[0]),
		)
	}
	proof := make([]Hash, 0, len(t.levels)-1)
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		} else if t.policy == OddPolicyDuplicate {
			// Lone node hashed with itself
			proof = append(proof, level[idx])
		}
		// Promote policy: lone node carried up, no sibling at this level
		idx /= 2
	}
	return proof, nil
}

// Verify recomputes the path from a leaf hash through the given proof
// using sorted-pair hashing and compares the result to the root
func Verify(leaf Hash, proof []Hash, root Hash) bool {
	hash := leaf
	for _, sibling := range proof {
		hash = combine(hash, sibling)
	}
	return hash == root
}

const treeCodecVersion = 1

// MarshalBinary serializes the full tree, including all levels, for
// storage in the tree cache
func (t *Tree) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(treeCodecVersion)
	buf.WriteByte(byte(t.policy))
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(t.levels))) //nolint:gosec
	buf.Write(scratch[:])
	for _, level := range t.levels {
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(level))) //nolint:gosec
		buf.Write(scratch[:])
		for _, node := range level {
			buf.Write(node[:])
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalTree deserializes a tree previously written by MarshalBinary
func UnmarshalTree(data []byte) (*Tree, error) {
	if len(data) < 6 {
		return nil, errors.New("tree data too short")
	}
	if data[0] != treeCodecVersion {
		return nil, fmt.Errorf("unknown tree codec version: %d", data[0])
	}
	policy := OddPolicy(data[1])
	switch policy {
	case OddPolicyDuplicate, OddPolicyPromote:
	default:
		return nil, fmt.Errorf("unknown odd-node policy: %d", data[1])
	}
	offset := 2
	levelCount := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if levelCount == 0 {
		return nil, errors.New("tree data has no levels")
	}
	levels := make([][]Hash, 0, levelCount)
	for range levelCount {
		if offset+4 > len(data) {
			return nil, errors.New("truncated tree data")
		}
		nodeCount := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if offset+nodeCount*32 > len(data) {
			return nil, errors.New("truncated tree data")
		}
		level := make([]Hash, nodeCount)
		for i := range nodeCount {
			copy(level[i][:], data[offset:offset+32])
			offset += 32
		}
		levels = append(levels, level)
	}
	if len(levels[len(levels)-1]) != 1 {
		return nil, errors.New("tree data top level is not a single root")
	}
	return &Tree{
		levels: levels,
		policy: policy,
	}, nil
}
