package block

import (
	"fmt"

	"github.com/kaslum/kaslum-node/pkg/tx"
)

// State tags where a block sits in its lifecycle. Building -> Mined ->
// Validated -> Finalized is one-way; only a FinalizedBlock may enter the
// canonical chain. The tag itself is informational — the Go type of the
// wrapper is what the API boundary actually enforces.
type State uint8

const (
	StateBuilding State = iota
	StateMined
	StateValidated
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateMined:
		return "mined"
	case StateValidated:
		return "validated"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// BuildingBlock is a block under construction from a mempool slice: it has
// a header and transactions but no proof-of-work yet.
type BuildingBlock struct{ *Block }

// MinedBlock has a nonce satisfying its stated difficulty but has not yet
// been checked against structural/consensus invariants.
type MinedBlock struct{ *Block }

// ValidatedBlock has passed structural validation and PoW/difficulty
// verification but is not yet part of the canonical chain.
type ValidatedBlock struct{ *Block }

// FinalizedBlock has been accepted into the canonical chain. Only this type
// may be handed to chain.Chain.ProcessBlock's apply path.
type FinalizedBlock struct{ *Block }

func (b *BuildingBlock) State() State  { return StateBuilding }
func (b *MinedBlock) State() State     { return StateMined }
func (b *ValidatedBlock) State() State { return StateValidated }
func (b *FinalizedBlock) State() State { return StateFinalized }

// NewBuilding constructs a Building-state block from a header (difficulty
// and prev_hash/height already set by the caller) and a transaction set.
func NewBuilding(header *Header, txs []*tx.Transaction) *BuildingBlock {
	return &BuildingBlock{NewBlock(header, txs)}
}

// Mine searches for a valid nonce via the supplied seal function (typically
// consensus.PoW.SealWithCancel) and transitions to Mined on success.
func (b *BuildingBlock) Mine(seal func(*Block) error) (*MinedBlock, error) {
	if seal == nil {
		return nil, fmt.Errorf("mine: nil seal function")
	}
	if err := seal(b.Block); err != nil {
		return nil, fmt.Errorf("mine: %w", err)
	}
	return &MinedBlock{b.Block}, nil
}

// Validate checks structural invariants (via Block.Validate) and the
// supplied consensus check (PoW threshold + difficulty bounds, typically
// consensus.PoW.VerifyHeader plus a difficulty-range check), transitioning
// to Validated on success.
func (b *MinedBlock) Validate(verifyConsensus func(*Header) error) (*ValidatedBlock, error) {
	if err := b.Block.Validate(); err != nil {
		return nil, err
	}
	if verifyConsensus != nil {
		if err := verifyConsensus(b.Header); err != nil {
			return nil, err
		}
	}
	return &ValidatedBlock{b.Block}, nil
}

// Finalize transitions a Validated block to Finalized. It is an identity
// transformation on the underlying data — only the lifecycle tag changes.
func (b *ValidatedBlock) Finalize() *FinalizedBlock {
	return &FinalizedBlock{b.Block}
}
