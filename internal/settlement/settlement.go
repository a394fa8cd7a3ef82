// Package settlement implements batch settlement, fraud proofs, and
// challenges (C7). A "batch" here plays the role the source material's
// sub-chain anchor plays: a state-root commitment from a lower layer
// (execution) that the root chain accepts provisionally and can roll back
// within a challenge window if a fraud proof is accepted against it.
package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/kaslum/kaslum-node/internal/errkind"
	"github.com/kaslum/kaslum-node/internal/storage"
	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/types"
)

var (
	ErrBatchNotFound      = errors.New("settlement batch not found")
	ErrChallengeExpired   = errors.New("challenge window has closed")
	ErrFraudProofRejected = errors.New("fraud proof does not demonstrate a discrepancy")
	ErrBatchInvalidated   = errors.New("batch already invalidated")
)

// Batch is a settled state transition awaiting its challenge window.
type Batch struct {
	ID             uint64
	PrevStateRoot  types.Hash
	NewStateRoot   types.Hash
	TxsRoot        types.Hash
	SettlementRoot types.Hash // H(new_state_root || txs_root)
	SubmittedAt    uint64     // block height at submission
	ChallengeUntil uint64     // block height the challenge window closes
	Invalidated    bool
}

// FraudProof claims that replaying Txs against PrevStateRoot yields
// Expected, which differs from the batch's NewStateRoot (Actual).
type FraudProof struct {
	BatchID  uint64
	Expected types.Hash
	Actual   types.Hash
}

// Challenge references a batch and carries the fraud proof contesting it.
type Challenge struct {
	BatchID uint64
	Reason  string
	Proof   FraudProof
}

// RollbackFunc undoes the state effects of a batch's transactions, the
// mechanism resolving the spec's open question about the settlement
// rollback path: reuse the chain's existing undo-log replay (see
// internal/chain.Reorg) scoped to the batch's height range.
type RollbackFunc func(batch *Batch) error

// Ledger stores settled batches and runs the challenge protocol.
type Ledger struct {
	mu            sync.Mutex
	db            storage.DB
	nextID        uint64
	challengeSpan uint64 // blocks
	rollback      RollbackFunc
}

var batchPrefix = []byte("settlement/batch/")

func batchKey(id uint64) []byte {
	key := make([]byte, len(batchPrefix)+8)
	copy(key, batchPrefix)
	binary.BigEndian.PutUint64(key[len(batchPrefix):], id)
	return key
}

// NewLedger creates a settlement ledger backed by db, with a challenge
// window of challengeSpan blocks and the given rollback mechanism.
func NewLedger(db storage.DB, challengeSpan uint64, rollback RollbackFunc) *Ledger {
	return &Ledger{db: db, challengeSpan: challengeSpan, rollback: rollback}
}

// SettleBatch computes the settlement root and records the batch, starting
// its challenge timer.
func (l *Ledger) SettleBatch(prevStateRoot, newStateRoot, txsRoot types.Hash, currentHeight uint64) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	buf := make([]byte, 0, 64)
	buf = append(buf, newStateRoot[:]...)
	buf = append(buf, txsRoot[:]...)
	batch := &Batch{
		ID:             l.nextID,
		PrevStateRoot:  prevStateRoot,
		NewStateRoot:   newStateRoot,
		TxsRoot:        txsRoot,
		SettlementRoot: crypto.Hash(buf),
		SubmittedAt:    currentHeight,
		ChallengeUntil: currentHeight + l.challengeSpan,
	}

	if err := l.put(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (l *Ledger) put(b *Batch) error {
	data := encodeBatch(b)
	return l.db.Put(batchKey(b.ID), data)
}

// GetBatch fetches a batch by ID.
func (l *Ledger) GetBatch(id uint64) (*Batch, error) {
	data, err := l.db.Get(batchKey(id))
	if err != nil {
		return nil, errkind.Wrap(fmt.Errorf("%w: %d", ErrBatchNotFound, id), errkind.NotFound)
	}
	return decodeBatch(data)
}

// VerifyFraudProof checks the necessary condition the spec states: the
// proof's expected root must differ from the batch's recorded actual root.
// (Deriving "expected" from prev_state_root+txs replay is the caller's
// responsibility — e.g. internal/execution re-running the batch — since
// that requires access to the batch's transaction set, which the ledger
// does not itself retain.)
func (l *Ledger) VerifyFraudProof(batch *Batch, proof FraudProof) bool {
	if proof.BatchID != batch.ID {
		return false
	}
	if proof.Actual != batch.NewStateRoot {
		return false
	}
	return proof.Expected != proof.Actual
}

// ProcessChallenge looks up the referenced batch; if still within its
// challenge window and the fraud proof verifies, the batch is marked
// invalidated and its state effects rolled back.
func (l *Ledger) ProcessChallenge(c Challenge, currentHeight uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch, err := l.GetBatch(c.BatchID)
	if err != nil {
		return err
	}
	if batch.Invalidated {
		return errkind.Wrap(ErrBatchInvalidated, errkind.Conflict)
	}
	if currentHeight > batch.ChallengeUntil {
		return errkind.Wrap(ErrChallengeExpired, errkind.Conflict)
	}
	if !l.VerifyFraudProof(batch, c.Proof) {
		return errkind.Wrap(ErrFraudProofRejected, errkind.Conflict)
	}

	batch.Invalidated = true
	if err := l.put(batch); err != nil {
		return err
	}
	if l.rollback != nil {
		if err := l.rollback(batch); err != nil {
			return fmt.Errorf("rollback batch %d: %w", batch.ID, err)
		}
	}
	return nil
}

func encodeBatch(b *Batch) []byte {
	buf := make([]byte, 0, 8+32*4+8+8+1)
	buf = binary.BigEndian.AppendUint64(buf, b.ID)
	buf = append(buf, b.PrevStateRoot[:]...)
	buf = append(buf, b.NewStateRoot[:]...)
	buf = append(buf, b.TxsRoot[:]...)
	buf = append(buf, b.SettlementRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.SubmittedAt)
	buf = binary.BigEndian.AppendUint64(buf, b.ChallengeUntil)
	if b.Invalidated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeBatch(data []byte) (*Batch, error) {
	const fixedLen = 8 + 32*4 + 8 + 8 + 1
	if len(data) != fixedLen {
		return nil, fmt.Errorf("corrupt batch record: %d bytes", len(data))
	}
	b := &Batch{}
	off := 0
	b.ID = binary.BigEndian.Uint64(data[off:])
	off += 8
	copy(b.PrevStateRoot[:], data[off:])
	off += 32
	copy(b.NewStateRoot[:], data[off:])
	off += 32
	copy(b.TxsRoot[:], data[off:])
	off += 32
	copy(b.SettlementRoot[:], data[off:])
	off += 32
	b.SubmittedAt = binary.BigEndian.Uint64(data[off:])
	off += 8
	b.ChallengeUntil = binary.BigEndian.Uint64(data[off:])
	off += 8
	b.Invalidated = data[off] == 1
	return b, nil
}
