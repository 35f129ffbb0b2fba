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

package merkle_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyrdlabs/wyrd/merkle"
)

func testClaims(n int) []merkle.Claim {
	claims := make([]merkle.Claim, 0, n)
	for i := range n {
		var claimer [32]byte
		claimer[0] = byte(i + 1)
		claimer[31] = 0xAA
		claims = append(claims, merkle.Claim{
			Claimer: claimer,
			Index:   uint32(i), //nolint:gosec
			Amount:  uint64(1000 * (i + 1)),
			ID:      fmt.Sprintf("user-%d", i),
		})
	}
	return claims
}

func TestTreeDeterminism(t *testing.T) {
	claims := testClaims(7)
	subject := merkle.Subject("", "somechannel")
	tree1, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		42,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	tree2, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		42,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	assert.Equal(t, tree1.Root(), tree2.Root())
}

func TestEmptyTree(t *testing.T) {
	_, err := merkle.NewTree(nil, merkle.OddPolicyDuplicate)
	assert.ErrorIs(t, err, merkle.ErrEmptyTree)
}

func TestProofRoundTrip(t *testing.T) {
	for _, policy := range []merkle.OddPolicy{
		merkle.OddPolicyDuplicate,
		merkle.OddPolicyPromote,
	} {
		// Cover even, odd, single-leaf, and power-of-two counts
		for _, leafCount := range []int{1, 2, 3, 5, 8, 13} {
			t.Run(
				fmt.Sprintf("%s_%d_leaves", policy, leafCount),
				func(t *testing.T) {
					claims := testClaims(leafCount)
					subject := merkle.Subject("tw", "somechannel")
					tree, err := merkle.BuildClaimTree(
						claims,
						merkle.LeafV1,
						subject,
						99,
						policy,
					)
					require.NoError(t, err)
					for i, claim := range claims {
						leaf := merkle.LeafHashV1(subject, 99, claim)
						proof, err := tree.ProofForClaim(i)
						require.NoError(t, err)
						assert.True(
							t,
							merkle.Verify(leaf, proof, tree.Root()),
							"claim %d must verify",
							i,
						)
					}
				},
			)
		}
	}
}

func TestProofTamperFails(t *testing.T) {
	claims := testClaims(5)
	subject := merkle.Subject("", "somechannel")
	tree, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		7,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	proof, err := tree.ProofForClaim(2)
	require.NoError(t, err)
	root := tree.Root()

	// Tamper with the amount
	badClaim := claims[2]
	badClaim.Amount++
	assert.False(
		t,
		merkle.Verify(merkle.LeafHashV1(subject, 7, badClaim), proof, root),
	)

	// Tamper with the index
	badClaim = claims[2]
	badClaim.Index++
	assert.False(
		t,
		merkle.Verify(merkle.LeafHashV1(subject, 7, badClaim), proof, root),
	)

	// Tamper with the id
	badClaim = claims[2]
	badClaim.ID += "x"
	assert.False(
		t,
		merkle.Verify(merkle.LeafHashV1(subject, 7, badClaim), proof, root),
	)

	// Tamper with a proof node
	badProof := make([]merkle.Hash, len(proof))
	copy(badProof, proof)
	badProof[0][5] ^= 0x01
	assert.False(
		t,
		merkle.Verify(merkle.LeafHashV1(subject, 7, claims[2]), badProof, root),
	)
}

func TestLeafVersionIsolation(t *testing.T) {
	claims := testClaims(4)
	subjectA := merkle.Subject("", "channel-a")
	subjectB := merkle.Subject("", "channel-b")

	treeA, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subjectA,
		10,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	treeB, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subjectB,
		10,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	treeA2, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subjectA,
		11,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)

	// Same claims, different subject or epoch, must not share roots
	assert.NotEqual(t, treeA.Root(), treeB.Root())
	assert.NotEqual(t, treeA.Root(), treeA2.Root())

	// A v1 leaf for (subjectA, 10) must not verify against the
	// (subjectB, 10) or (subjectA, 11) trees
	leaf := merkle.LeafHashV1(subjectA, 10, claims[1])
	proofB, err := treeB.ProofForClaim(1)
	require.NoError(t, err)
	assert.False(t, merkle.Verify(leaf, proofB, treeB.Root()))
	proofA2, err := treeA2.ProofForClaim(1)
	require.NoError(t, err)
	assert.False(t, merkle.Verify(leaf, proofA2, treeA2.Root()))
}

func TestV0VersusV1(t *testing.T) {
	claim := testClaims(1)[0]
	subject := merkle.Subject("", "somechannel")
	assert.NotEqual(
		t,
		merkle.LeafHashV0(claim),
		merkle.LeafHashV1(subject, 5, claim),
	)
}

func TestOddPolicyConsistency(t *testing.T) {
	// Odd leaf count: the two policies must produce different roots
	claims := testClaims(5)
	subject := merkle.Subject("", "somechannel")
	dupTree, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		3,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	promoteTree, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		3,
		merkle.OddPolicyPromote,
	)
	require.NoError(t, err)
	assert.NotEqual(t, dupTree.Root(), promoteTree.Root())

	// A proof for the lone trailing leaf must only verify under its
	// own policy's root
	leaf := merkle.LeafHashV1(subject, 3, claims[4])
	dupProof, err := dupTree.ProofForClaim(4)
	require.NoError(t, err)
	promoteProof, err := promoteTree.ProofForClaim(4)
	require.NoError(t, err)
	assert.True(t, merkle.Verify(leaf, dupProof, dupTree.Root()))
	assert.True(t, merkle.Verify(leaf, promoteProof, promoteTree.Root()))
	assert.False(t, merkle.Verify(leaf, dupProof, promoteTree.Root()))
	assert.False(t, merkle.Verify(leaf, promoteProof, dupTree.Root()))

	// Promote proofs for the trailing leaf are shorter
	assert.Less(t, len(promoteProof), len(dupProof))

	// Even leaf count: same root either way
	evenClaims := testClaims(4)
	dupEven, err := merkle.BuildClaimTree(
		evenClaims,
		merkle.LeafV1,
		subject,
		3,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	promoteEven, err := merkle.BuildClaimTree(
		evenClaims,
		merkle.LeafV1,
		subject,
		3,
		merkle.OddPolicyPromote,
	)
	require.NoError(t, err)
	assert.Equal(t, dupEven.Root(), promoteEven.Root())
}

func TestSubject(t *testing.T) {
	// Case-insensitive on channel name
	assert.Equal(
		t,
		merkle.Subject("", "SomeChannel"),
		merkle.Subject("", "somechannel"),
	)
	// Namespace separates subjects
	assert.NotEqual(
		t,
		merkle.Subject("tw", "somechannel"),
		merkle.Subject("", "somechannel"),
	)
}

func TestTreeMarshalRoundTrip(t *testing.T) {
	claims := testClaims(9)
	subject := merkle.Subject("", "somechannel")
	tree, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		21,
		merkle.OddPolicyPromote,
	)
	require.NoError(t, err)
	data, err := tree.Tree.MarshalBinary()
	require.NoError(t, err)
	restored, err := merkle.UnmarshalTree(data)
	require.NoError(t, err)
	assert.Equal(t, tree.Root(), restored.Root())
	assert.Equal(t, tree.Tree.Policy(), restored.Policy())
	assert.Equal(t, tree.Tree.LeafCount(), restored.LeafCount())
	for i := range claims {
		origProof, err := tree.ProofForClaim(i)
		require.NoError(t, err)
		restoredProof, err := restored.Proof(i)
		require.NoError(t, err)
		assert.Equal(t, origProof, restoredProof)
	}
}

func TestUnmarshalTreeRejectsGarbage(t *testing.T) {
	_, err := merkle.UnmarshalTree(nil)
	assert.Error(t, err)
	_, err = merkle.UnmarshalTree([]byte{0xFF, 0x00, 0x01, 0x00, 0x00, 0x00})
	assert.Error(t, err)
}

func TestProofBundle(t *testing.T) {
	claims := testClaims(3)
	subject := merkle.Subject("", "somechannel")
	tree, err := merkle.BuildClaimTree(
		claims,
		merkle.LeafV1,
		subject,
		8,
		merkle.OddPolicyDuplicate,
	)
	require.NoError(t, err)
	bundle, err := merkle.NewProofBundle(
		"somechannel",
		tree,
		func(claimer [32]byte) string {
			return fmt.Sprintf("%x", claimer[:4])
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "somechannel", bundle.Channel)
	assert.Equal(t, uint64(8), bundle.Epoch)
	assert.Equal(t, tree.Root().String(), bundle.Root)
	assert.Len(t, bundle.Claims, 3)
	assert.Len(t, bundle.Nodes, 3)
	// Each exported node path must verify for its claim
	for i, claim := range claims {
		leaf := merkle.LeafHashV1(subject, 8, claim)
		proof := make([]merkle.Hash, 0, len(bundle.Nodes[i]))
		for _, nodeHex := range bundle.Nodes[i] {
			node, err := merkle.HashFromHex(nodeHex)
			require.NoError(t, err)
			proof = append(proof, node)
		}
		assert.True(t, merkle.Verify(leaf, proof, tree.Root()))
	}
}
