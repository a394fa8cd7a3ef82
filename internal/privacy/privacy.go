// Package privacy implements confidential transaction assembly and
// verification (C12): Pedersen commitments hide amounts, bit-decomposition
// range proofs bound them, and nullifiers prevent double-spending a hidden
// UTXO without revealing which one was spent.
//
// This is explicitly not a production zero-knowledge proof system (the
// spec names that a Non-goal): range proofs and validity proofs are
// binding tags, not succinct soundness arguments. They are enough to
// detect tampering with the committed data but do not by themselves stop
// a dishonest prover who controls both sides of a proof from fabricating
// one — the same limitation the source material (original_source's
// privacy.rs) carries.
package privacy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/tx"
	"github.com/kaslum/kaslum-node/pkg/types"
)

// Config mirrors the source's PrivacyConfig: which privacy features are
// active and the range proof bit width.
type Config struct {
	EnableZKProofs           bool
	EnableConfidentialAmount bool
	EnableNullifiers         bool
	RangeProofBits           int
}

// DefaultConfig enables every privacy feature with 64-bit range proofs.
func DefaultConfig() Config {
	return Config{
		EnableZKProofs:           true,
		EnableConfidentialAmount: true,
		EnableNullifiers:         true,
		RangeProofBits:           64,
	}
}

var (
	ErrRangeOverflow      = errors.New("value does not fit in range proof bit width")
	ErrInvalidRangeProof  = errors.New("range proof tag mismatch")
	ErrInvalidValidity    = errors.New("utxo validity proof tag mismatch")
	ErrNullifierReused    = errors.New("nullifier already used")
	ErrCommitmentMismatch = errors.New("commitment balance does not hold")
	ErrInvalidTxProof     = errors.New("transaction proof tag mismatch")
)

// Commitment is a Pedersen commitment: compressed curve point plus the
// blinding factor that opens it. Per the spec, opening is a function, not
// a relation — crypto.VerifyCommitment is deterministic in (C, v, r).
type Commitment struct {
	C []byte
	R []byte
}

// CommitAmount produces a fresh Pedersen commitment to v.
func CommitAmount(v uint64) (Commitment, error) {
	r, err := crypto.RandomBlinding()
	if err != nil {
		return Commitment{}, err
	}
	c, err := crypto.Commit(v, r)
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{C: c, R: r}, nil
}

// VerifyCommitment recomputes C from (v, r) and compares.
func VerifyCommitment(cm Commitment, v uint64) bool {
	return crypto.VerifyCommitment(cm.C, v, cm.R)
}

// RangeProof binds a commitment to a bit-decomposition of its value
// without directly revealing the value to a verifier who only sees the
// proof and the commitment (the decomposition itself IS revealed in the
// proof body, consistent with the source design — see package doc).
type RangeProof struct {
	BitCommitments [][]byte // one Pedersen commitment per bit, low bit first
	BitBlindings   [][]byte
	Tag            types.Hash
}

// GenerateRangeProof decomposes v into bits many bits, commits each bit,
// and tags the whole bundle against the outer commitment C.
func GenerateRangeProof(v uint64, bits int, c []byte) (*RangeProof, error) {
	if bits <= 0 || bits > 64 {
		return nil, fmt.Errorf("invalid range proof bit width %d", bits)
	}
	if bits < 64 && v >= (uint64(1)<<uint(bits)) {
		return nil, ErrRangeOverflow
	}

	proof := &RangeProof{
		BitCommitments: make([][]byte, bits),
		BitBlindings:   make([][]byte, bits),
	}
	body := make([]byte, 0, bits*(33+32))
	for i := 0; i < bits; i++ {
		bit := (v >> uint(i)) & 1
		r, err := crypto.RandomBlinding()
		if err != nil {
			return nil, err
		}
		bc, err := crypto.Commit(bit, r)
		if err != nil {
			return nil, err
		}
		proof.BitCommitments[i] = bc
		proof.BitBlindings[i] = r
		body = append(body, bc...)
		body = append(body, r...)
	}
	proof.Tag = crypto.UtxoValidityProofTag(c, body)
	return proof, nil
}

// VerifyRangeProof recomputes the tag from C and the proof body and
// compares. Only the tag is checked: the number of bit commitments is not
// compared with any configured width (GenerateRangeProof enforces the
// width at creation time).
func VerifyRangeProof(proof *RangeProof, c []byte) bool {
	if proof == nil || len(proof.BitCommitments) != len(proof.BitBlindings) {
		return false
	}
	body := make([]byte, 0, len(proof.BitCommitments)*(33+32))
	for i := range proof.BitCommitments {
		body = append(body, proof.BitCommitments[i]...)
		body = append(body, proof.BitBlindings[i]...)
	}
	expected := crypto.UtxoValidityProofTag(c, body)
	return expected == proof.Tag
}

// GenerateNullifier derives nf = H(sk || txid || vout || r) with fresh
// randomness r, returning nf‖r as the spec's wire format for a nullifier.
func GenerateNullifier(sk []byte, txid types.Hash, vout uint32) ([]byte, error) {
	r := make([]byte, 32)
	if _, err := rand.Read(r); err != nil {
		return nil, fmt.Errorf("nullifier randomness: %w", err)
	}
	buf := make([]byte, 0, len(sk)+32+4+32)
	buf = append(buf, sk...)
	buf = append(buf, txid[:]...)
	var vb [4]byte
	vb[0] = byte(vout >> 24)
	vb[1] = byte(vout >> 16)
	vb[2] = byte(vout >> 8)
	vb[3] = byte(vout)
	buf = append(buf, vb[:]...)
	buf = append(buf, r...)

	h := crypto.Hash(buf)
	out := make([]byte, 0, 32+32)
	out = append(out, h[:]...)
	out = append(out, r...)
	return out, nil
}

// NullifierSet tracks spent nullifiers. Marking is atomic with block
// inclusion in the caller (the set itself just guards the map).
type NullifierSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewNullifierSet creates an empty nullifier set.
func NewNullifierSet() *NullifierSet {
	return &NullifierSet{seen: make(map[string]struct{})}
}

// IsUsed reports whether a nullifier has already been marked spent.
func (s *NullifierSet) IsUsed(nf []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[string(nf)]
	return ok
}

// MarkUsed records a nullifier as spent. Returns ErrNullifierReused if it
// was already present.
func (s *NullifierSet) MarkUsed(nf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(nf)
	if _, ok := s.seen[key]; ok {
		return ErrNullifierReused
	}
	s.seen[key] = struct{}{}
	return nil
}

// PrivateInput is a confidential spend: the plain input plus its amount
// commitment, validity proof, and nullifier.
type PrivateInput struct {
	Base           tx.Input
	AmountCommit   Commitment
	ValidityProof  types.Hash // tag over (commitment || txid || vout)
	Nullifier      []byte
}

// PrivateOutput is a confidential new UTXO: the plain output plus its
// amount commitment, range proof, and a symmetrically encrypted copy of
// the amount for the recipient (full ECDH key agreement with the
// recipient's view key is an external wallet concern, out of scope here).
type PrivateOutput struct {
	Base            tx.Output
	AmountCommit    Commitment
	RangeProof      *RangeProof
	EncryptedAmount []byte
}

// PrivateTransaction wraps a base transaction with per-input/output
// confidentiality material plus an overall transaction proof.
type PrivateTransaction struct {
	Base          *tx.Transaction
	Inputs        []PrivateInput
	Outputs       []PrivateOutput
	FeeCommitment Commitment
	TxProof       []byte // H(tx.id || r) || r, same shape as a nullifier
}

// validityProofBody is the body hashed for a PrivateInput's validity tag.
func validityProofBody(commit []byte, txid types.Hash, vout uint32) []byte {
	buf := make([]byte, 0, len(commit)+32+4)
	buf = append(buf, commit...)
	buf = append(buf, txid[:]...)
	var vb [4]byte
	vb[0] = byte(vout >> 24)
	vb[1] = byte(vout >> 16)
	vb[2] = byte(vout >> 8)
	vb[3] = byte(vout)
	buf = append(buf, vb[:]...)
	return buf
}

// Provider assembles and verifies private transactions over a bit width
// and a shared nullifier set.
type Provider struct {
	cfg    Config
	nulls  *NullifierSet
}

// NewProvider creates a privacy provider.
func NewProvider(cfg Config, nulls *NullifierSet) *Provider {
	if nulls == nil {
		nulls = NewNullifierSet()
	}
	return &Provider{cfg: cfg, nulls: nulls}
}

// CreatePrivateTransaction builds confidentiality material for a base
// transaction given each input's spending key and plaintext value, and
// each output's plaintext value.
func (p *Provider) CreatePrivateTransaction(base *tx.Transaction, inputSks [][]byte, inputValues []uint64, outputValues []uint64, encryptionKey []byte) (*PrivateTransaction, error) {
	if len(base.Inputs) != len(inputSks) || len(inputSks) != len(inputValues) {
		return nil, fmt.Errorf("input material length mismatch")
	}
	if len(base.Outputs) != len(outputValues) {
		return nil, fmt.Errorf("output value length mismatch")
	}

	pt := &PrivateTransaction{Base: base}
	var inputTotal, outputTotal uint64

	for i, in := range base.Inputs {
		cm, err := CommitAmount(inputValues[i])
		if err != nil {
			return nil, err
		}
		nf, err := GenerateNullifier(inputSks[i], in.PrevOut.TxID, in.PrevOut.Index)
		if err != nil {
			return nil, err
		}
		tag := crypto.Hash(validityProofBody(cm.C, in.PrevOut.TxID, in.PrevOut.Index))
		pt.Inputs = append(pt.Inputs, PrivateInput{
			Base:          in,
			AmountCommit:  cm,
			ValidityProof: tag,
			Nullifier:     nf,
		})
		inputTotal += inputValues[i]
	}

	for i, out := range base.Outputs {
		cm, err := CommitAmount(outputValues[i])
		if err != nil {
			return nil, err
		}
		rp, err := GenerateRangeProof(outputValues[i], p.cfg.RangeProofBits, cm.C)
		if err != nil {
			return nil, err
		}
		enc, err := encryptAmount(outputValues[i], encryptionKey)
		if err != nil {
			return nil, err
		}
		pt.Outputs = append(pt.Outputs, PrivateOutput{
			Base:            out,
			AmountCommit:    cm,
			RangeProof:      rp,
			EncryptedAmount: enc,
		})
		outputTotal += outputValues[i]
	}

	if inputTotal < outputTotal {
		return nil, fmt.Errorf("private tx: inputs %d < outputs %d", inputTotal, outputTotal)
	}
	fee := inputTotal - outputTotal
	feeCommit, err := CommitAmount(fee)
	if err != nil {
		return nil, err
	}
	pt.FeeCommitment = feeCommit

	txID := base.Hash()
	r := make([]byte, 32)
	if _, err := rand.Read(r); err != nil {
		return nil, fmt.Errorf("tx proof randomness: %w", err)
	}
	h := crypto.Hash(append(append([]byte{}, txID[:]...), r...))
	pt.TxProof = append(h[:], r...)

	return pt, nil
}

// VerifyPrivateTransaction checks every input's validity proof and
// nullifier freshness, every output's range proof, the on-curve
// commitment balance Σ C_in = Σ C_out + C_fee, and the transaction proof
// tag. It does not mark nullifiers used — callers do that atomically with
// block inclusion via NullifierSet.MarkUsed.
func (p *Provider) VerifyPrivateTransaction(pt *PrivateTransaction) error {
	for i, in := range pt.Inputs {
		expected := crypto.Hash(validityProofBody(in.AmountCommit.C, in.Base.PrevOut.TxID, in.Base.PrevOut.Index))
		if expected != in.ValidityProof {
			return fmt.Errorf("input %d: %w", i, ErrInvalidValidity)
		}
		if p.nulls.IsUsed(in.Nullifier) {
			return fmt.Errorf("input %d: %w", i, ErrNullifierReused)
		}
	}

	for i, out := range pt.Outputs {
		if !VerifyRangeProof(out.RangeProof, out.AmountCommit.C) {
			return fmt.Errorf("output %d: %w", i, ErrInvalidRangeProof)
		}
	}

	if err := p.verifyCommitmentBalance(pt); err != nil {
		return err
	}

	txID := pt.Base.Hash()
	if len(pt.TxProof) < 32 {
		return ErrInvalidTxProof
	}
	r := pt.TxProof[32:]
	buf := append(append([]byte{}, txID[:]...), r...)
	expectedHash := crypto.Hash(buf)
	if string(expectedHash[:]) != string(pt.TxProof[:32]) {
		return ErrInvalidTxProof
	}

	return nil
}

func (p *Provider) verifyCommitmentBalance(pt *PrivateTransaction) error {
	inCommits := make([][]byte, len(pt.Inputs))
	for i, in := range pt.Inputs {
		inCommits[i] = in.AmountCommit.C
	}
	sumIn, err := crypto.AddCommitments(inCommits...)
	if err != nil {
		return fmt.Errorf("sum input commitments: %w", err)
	}

	outCommits := make([][]byte, 0, len(pt.Outputs)+1)
	for _, out := range pt.Outputs {
		outCommits = append(outCommits, out.AmountCommit.C)
	}
	outCommits = append(outCommits, pt.FeeCommitment.C)
	sumOut, err := crypto.AddCommitments(outCommits...)
	if err != nil {
		return fmt.Errorf("sum output+fee commitments: %w", err)
	}

	if !crypto.CommitmentsEqual(sumIn, sumOut) {
		return ErrCommitmentMismatch
	}
	return nil
}
