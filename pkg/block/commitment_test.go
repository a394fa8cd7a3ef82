package block

import (
	"testing"

	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/types"
)

func TestMerkleScheme_MatchesComputeMerkleRoot(t *testing.T) {
	hashes := []types.Hash{
		crypto.Hash([]byte("a")),
		crypto.Hash([]byte("b")),
		crypto.Hash([]byte("c")),
	}

	var scheme CommitmentScheme = MerkleScheme{}
	got := scheme.Root(hashes)
	want := ComputeMerkleRoot(hashes)
	if got != want {
		t.Errorf("MerkleScheme.Root() = %s, want %s", got, want)
	}
}

func TestMerkleScheme_Empty(t *testing.T) {
	var scheme CommitmentScheme = MerkleScheme{}
	root := scheme.Root(nil)
	if !root.IsZero() {
		t.Errorf("empty leaves should fold to zero hash, got %s", root)
	}
}

func TestDefaultCommitmentScheme_IsMerkle(t *testing.T) {
	if _, ok := DefaultCommitmentScheme.(MerkleScheme); !ok {
		t.Errorf("DefaultCommitmentScheme should be MerkleScheme by default, got %T", DefaultCommitmentScheme)
	}
}
