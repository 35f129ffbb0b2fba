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

// ClaimTree pairs a commitment tree with the claim set it was built
// over and the leaf scheme that produced it. This is the unit stored in
// the tree cache and the only root value ever written to the ledger.
// It is distinct from the identity-commitment root computed at seal
// time, which commits only to the participant list.
type ClaimTree struct {
	Tree        *Tree
	Claims      []Claim
	LeafVersion LeafVersion
	Subject     Hash
	Epoch       uint64
}

// BuildClaimTree hashes each claim with the given leaf scheme and
// builds the commitment tree. Claims must already be in leaf order;
// the builder does not reorder them.
func BuildClaimTree(
	claims []Claim,
	version LeafVersion,
	subject Hash,
	epoch uint64,
	policy OddPolicy,
) (*ClaimTree, error) {
	leaves := make([]Hash, 0, len(claims))
	for _, claim := range claims {
		leaf, err := LeafHash(version, subject, epoch, claim)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	tree, err := NewTree(leaves, policy)
	if err != nil {
		return nil, err
	}
	return &ClaimTree{
		Tree:        tree,
		Claims:      claims,
		LeafVersion: version,
		Subject:     subject,
		Epoch:       epoch,
	}, nil
}

// Root returns the claim-tree commitment root
func (c *ClaimTree) Root() Hash {
	return c.Tree.Root()
}

// ProofForClaim returns the sibling path for the claim at position i in
// the claim list (not the claim's bitmap index)
func (c *ClaimTree) ProofForClaim(i int) ([]Hash, error) {
	return c.Tree.Proof(i)
}

// ProofBundleClaim is one claim entry in an exported proof bundle
type ProofBundleClaim struct {
	Claimer string `json:"claimer"`
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"`
	Index   uint32 `json:"index"`
}

// ProofBundle is the JSON artifact handed to claimants. nodes[i] is the
// sibling-hash path for claims[i], hex encoded.
type ProofBundle struct {
	Channel     string             `json:"channel"`
	Epoch       uint64             `json:"epoch"`
	Subject     string             `json:"subject"`
	LeafVersion uint8              `json:"leafVersion"`
	OddPolicy   string             `json:"oddPolicy"`
	Root        string             `json:"root"`
	Claims      []ProofBundleClaim `json:"claims"`
	Nodes       [][]string         `json:"nodes"`
}

// NewProofBundle exports the full claim tree as a proof bundle. The
// claimerString callback converts a claimer public key to its display
// form (base58 for the ledger in use).
func NewProofBundle(
	channel string,
	tree *ClaimTree,
	claimerString func([32]byte) string,
) (*ProofBundle, error) {
	bundle := &ProofBundle{
		Channel:     channel,
		Epoch:       tree.Epoch,
		Subject:     tree.Subject.String(),
		LeafVersion: uint8(tree.LeafVersion),
		OddPolicy:   tree.Tree.Policy().String(),
		Root:        tree.Root().String(),
		Claims:      make([]ProofBundleClaim, 0, len(tree.Claims)),
		Nodes:       make([][]string, 0, len(tree.Claims)),
	}
	for i, claim := range tree.Claims {
		proof, err := tree.ProofForClaim(i)
		if err != nil {
			return nil, err
		}
		nodes := make([]string, 0, len(proof))
		for _, node := range proof {
			nodes = append(nodes, node.String())
		}
		bundle.Claims = append(bundle.Claims, ProofBundleClaim{
			Claimer: claimerString(claim.Claimer),
			Amount:  claim.Amount,
			ID:      claim.ID,
			Index:   claim.Index,
		})
		bundle.Nodes = append(bundle.Nodes, nodes)
	}
	return bundle, nil
}
