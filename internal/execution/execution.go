// Package execution applies transactions to state and computes the
// resulting state root (C5). It sits between the eUTXO processor
// (internal/utxo, pkg/tx) and consensus: consensus asks it to execute a
// block's transactions and reports back gas usage, events, and a
// deterministic state root.
package execution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kaslum/kaslum-node/internal/errkind"
	"github.com/kaslum/kaslum-node/internal/utxo"
	"github.com/kaslum/kaslum-node/pkg/block"
	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/tx"
	"github.com/kaslum/kaslum-node/pkg/types"
)

// GasConfig holds the per-byte costs used to price eUTXO scripts/datums.
type GasConfig struct {
	Base              uint64 // flat cost charged to every transaction
	ScriptCostPerByte uint64
	RedeemerDivisor   uint64 // redeemer cost = len(redeemer) / RedeemerDivisor
	MaxScriptSize     int
	MaxDatumSize      int
}

// DefaultGasConfig matches the cost shape spec'd for the eUTXO processor:
// base + len(script)*script_cost + len(redeemer)/10.
func DefaultGasConfig() GasConfig {
	return GasConfig{
		Base:              21_000,
		ScriptCostPerByte: 10,
		RedeemerDivisor:   10,
		MaxScriptSize:     4096,
		MaxDatumSize:      2048,
	}
}

var (
	ErrMissingUTXO    = errors.New("missing utxo")
	ErrAlreadySpent   = errors.New("utxo already spent")
	ErrScriptFailure  = errors.New("script validation failed")
	ErrScriptTooLarge = errors.New("script exceeds max size")
	ErrDatumTooLarge  = errors.New("datum exceeds max size")
)

// ScriptVerifier evaluates a locking script against its redeemer. The node
// does not ship a general contract VM (explicitly out of scope); the
// default verifier recognizes the typed script kinds already understood by
// pkg/types.Script and otherwise requires a non-empty redeemer, which is
// sufficient for the eUTXO cost/validation contract this component owns.
type ScriptVerifier interface {
	Validate(script types.Script, datum, redeemer []byte, pubKey []byte) bool
}

// DefaultScriptVerifier implements ScriptVerifier without a contract VM.
type DefaultScriptVerifier struct{}

func (DefaultScriptVerifier) Validate(script types.Script, _, redeemer []byte, pubKey []byte) bool {
	switch script.Type {
	case types.ScriptTypeP2PKH, types.ScriptTypeStake:
		// Ownership already checked by pkg/tx.ValidateWithUTXOs; script
		// evaluation here only needs to confirm the caller supplied some
		// authorization material.
		return len(pubKey) > 0
	default:
		return len(redeemer) > 0
	}
}

// Event is a fire-and-forget notification produced while executing a
// transaction (mint, burn, anchor, etc).
type Event struct {
	Kind string
	Data []byte
}

// Receipt is the deterministic result of executing one transaction.
type Receipt struct {
	TxHash  types.Hash
	Success bool
	GasUsed uint64
	Events  []Event
	Err     string
}

// ExecResult is the result of executing an entire block.
type ExecResult struct {
	StateRoot types.Hash
	GasUsed   uint64
	Receipts  []Receipt
	Events    []Event
}

// Engine executes transactions against a UTXO set.
type Engine struct {
	utxos    utxo.Set
	gas      GasConfig
	verifier ScriptVerifier
}

// New creates an execution engine over the given UTXO set.
func New(utxos utxo.Set, gas GasConfig, verifier ScriptVerifier) *Engine {
	if verifier == nil {
		verifier = DefaultScriptVerifier{}
	}
	return &Engine{utxos: utxos, gas: gas, verifier: verifier}
}

// ExecuteTx validates and applies one transaction's inputs/outputs,
// following the eUTXO validation algorithm: look up each input, evaluate
// its script if present, accumulate gas, then enforce output size limits
// before committing any state change. Any failure aborts the whole
// transaction — no partial application.
func (e *Engine) ExecuteTx(t *tx.Transaction, height uint64) (*Receipt, error) {
	txHash := t.Hash()
	receipt := &Receipt{TxHash: txHash}

	gasUsed := e.gas.Base
	var events []Event
	var spent []types.Outpoint

	for i, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue // Coinbase: no input validation.
		}

		u, err := e.utxos.Get(in.PrevOut)
		if err != nil {
			receipt.Err = fmt.Sprintf("input %d: %v", i, ErrMissingUTXO)
			return receipt, errkind.Wrap(fmt.Errorf("input %d: %w", i, ErrMissingUTXO), errkind.NotFound)
		}

		if u.Script.Type != 0 && len(u.Script.Data) > 0 {
			if !e.verifier.Validate(u.Script, nil, in.Redeemer, in.PubKey) {
				receipt.Err = fmt.Sprintf("input %d: %v", i, ErrScriptFailure)
				return receipt, errkind.Wrap(fmt.Errorf("input %d: %w", i, ErrScriptFailure), errkind.Conflict)
			}
			gasUsed += uint64(len(u.Script.Data)) * e.gas.ScriptCostPerByte
		}
		if e.gas.RedeemerDivisor > 0 {
			gasUsed += uint64(len(in.Redeemer)) / e.gas.RedeemerDivisor
		}

		spent = append(spent, in.PrevOut)
	}

	for i, out := range t.Outputs {
		if len(out.Script.Data) > e.gas.MaxScriptSize {
			receipt.Err = fmt.Sprintf("output %d: %v", i, ErrScriptTooLarge)
			return receipt, errkind.Wrap(fmt.Errorf("output %d: %w", i, ErrScriptTooLarge), errkind.ProtocolViolation)
		}
		if len(out.Datum) > e.gas.MaxDatumSize {
			receipt.Err = fmt.Sprintf("output %d: %v", i, ErrDatumTooLarge)
			return receipt, errkind.Wrap(fmt.Errorf("output %d: %w", i, ErrDatumTooLarge), errkind.ProtocolViolation)
		}
		if out.IsEUTXO() {
			gasUsed += uint64(len(out.Datum)+len(out.ReferenceScript)) * e.gas.ScriptCostPerByte
		}
	}

	// Commit: mark consumed inputs spent, append new outputs.
	for _, op := range spent {
		if err := e.utxos.Delete(op); err != nil {
			return nil, fmt.Errorf("spend %s: %w", op, err)
		}
	}
	for idx, out := range t.Outputs {
		rec := &utxo.UTXO{
			Outpoint: types.Outpoint{TxID: txHash, Index: uint32(idx)},
			Value:    out.Value,
			Script:   out.Script,
			Token:    out.Token,
			Height:   height,
			Coinbase: len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero(),
		}
		if err := e.utxos.Put(rec); err != nil {
			return nil, fmt.Errorf("create output %d: %w", idx, err)
		}
	}

	receipt.Success = true
	receipt.GasUsed = gasUsed
	receipt.Events = events
	return receipt, nil
}

// ExecuteBlock executes every transaction in order and computes a state
// root. The root is folded via block.DefaultCommitmentScheme (a Merkle root
// today) over the sorted hashes of the addresses the block's P2PKH outputs
// pay to; balances and other account state are not part of it. It is
// deterministic given the same transactions.
func (e *Engine) ExecuteBlock(b *block.Block) (*ExecResult, error) {
	result := &ExecResult{}

	for _, t := range b.Transactions {
		receipt, err := e.ExecuteTx(t, b.Header.Height)
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w", t.Hash(), err)
		}
		result.Receipts = append(result.Receipts, *receipt)
		result.GasUsed += receipt.GasUsed
		result.Events = append(result.Events, receipt.Events...)
	}

	result.StateRoot = PreviewStateRoot(b.Transactions)
	return result, nil
}

// PreviewStateRoot computes the state root a block of transactions would
// produce, without touching the UTXO set. The root depends only on which
// addresses the transactions' P2PKH outputs pay to, so it can be computed
// before a block is ever applied (internal/miner stamps it into the header
// it mines) and recomputed identically once ExecuteBlock commits the same
// transactions for real.
func PreviewStateRoot(txs []*tx.Transaction) types.Hash {
	touched := map[types.Address]struct{}{}
	for _, t := range txs {
		for _, out := range t.Outputs {
			if out.Script.Type == types.ScriptTypeP2PKH && len(out.Script.Data) == types.AddressSize {
				var addr types.Address
				copy(addr[:], out.Script.Data)
				touched[addr] = struct{}{}
			}
		}
	}
	return stateRoot(touched)
}

// stateRoot computes a Merkle root over sorted address hashes, giving a
// stable per-block summary of which accounts the block touched.
func stateRoot(addrs map[types.Address]struct{}) types.Hash {
	if len(addrs) == 0 {
		return types.Hash{}
	}
	list := make([]types.Address, 0, len(addrs))
	for a := range addrs {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Hex() < list[j].Hex() })

	hashes := make([]types.Hash, len(list))
	for i, a := range list {
		hashes[i] = crypto.Hash(a[:])
	}
	return block.DefaultCommitmentScheme.Root(hashes)
}
