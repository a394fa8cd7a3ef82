package consensus

import (
	"fmt"

	"github.com/kaslum/kaslum-node/pkg/block"
)

// Validator validates blocks against consensus rules.
type Validator struct {
	engine Engine
}

// NewValidator creates a block validator with the given consensus engine.
func NewValidator(engine Engine) *Validator {
	return &Validator{engine: engine}
}

// ValidateBlock checks a block against both structural and consensus rules,
// driving it through the typed Mined -> Validated transition
// (pkg/block.MinedBlock.Validate) rather than calling Block.Validate and
// engine.VerifyHeader separately: a block that fails either check never
// becomes a block.ValidatedBlock, so nothing downstream can mistake a
// partially-checked block for one that passed both gates.
func (v *Validator) ValidateBlock(blk *block.Block) (*block.ValidatedBlock, error) {
	mined := &block.MinedBlock{Block: blk}
	validated, err := mined.Validate(v.engine.VerifyHeader)
	if err != nil {
		// Re-run the structural check alone to tell a structure failure
		// from a consensus failure for the error message; MinedBlock.Validate
		// itself doesn't distinguish the two since either aborts the
		// transition identically.
		if structErr := blk.Validate(); structErr != nil {
			return nil, fmt.Errorf("block structure: %w", structErr)
		}
		return nil, fmt.Errorf("consensus: %w", err)
	}
	return validated, nil
}
