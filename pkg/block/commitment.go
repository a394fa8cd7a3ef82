package block

import "github.com/kaslum/kaslum-node/pkg/types"

// CommitmentScheme abstracts the commitment used for a block's tx_root and
// for the execution layer's state_root: something that folds a list of leaf
// hashes into a single root. The spec leaves the choice between a Merkle
// tree and a Verkle (vector-commitment) tree open; this seam lets a future
// Verkle implementation slot in without touching callers that only need
// "compute a root over these leaves."
type CommitmentScheme interface {
	// Root folds leaves into a single commitment. An empty slice yields
	// the zero hash, matching ComputeMerkleRoot's convention.
	Root(leaves []types.Hash) types.Hash
}

// MerkleScheme is the CommitmentScheme backing every root computed by this
// node today: pairwise BLAKE3, duplicate-last-if-odd, per ComputeMerkleRoot.
type MerkleScheme struct{}

// Root implements CommitmentScheme.
func (MerkleScheme) Root(leaves []types.Hash) types.Hash {
	return ComputeMerkleRoot(leaves)
}

// DefaultCommitmentScheme is the scheme new code should depend on rather
// than calling ComputeMerkleRoot directly, so swapping in a Verkle scheme
// later is a one-line change here instead of a search-and-replace.
var DefaultCommitmentScheme CommitmentScheme = MerkleScheme{}
