// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/types"
)

// Transaction represents a blockchain transaction.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint64   `json:"locktime"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
	// Scheme tags which crypto.KeyPair signed PubKey/Signature
	// (crypto.SchemeID). Zero means crypto.SchemeSecp256k1Schnorr — the
	// value every input had before per-input scheme tagging existed, kept
	// as the default so old-format inputs keep verifying unchanged.
	Scheme uint8 `json:"scheme,omitempty"`
	// Redeemer carries extra witness data for an eUTXO output locked by a
	// script (e.g. contract arguments). Empty for plain P2PKH spends.
	Redeemer []byte `json:"redeemer,omitempty"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
	Scheme    uint8          `json:"scheme,omitempty"`
	Redeemer  *string        `json:"redeemer,omitempty"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut, Scheme: in.Scheme}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	if in.Redeemer != nil {
		r := hex.EncodeToString(in.Redeemer)
		j.Redeemer = &r
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	in.Scheme = j.Scheme
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	if j.Redeemer != nil {
		b, err := hex.DecodeString(*j.Redeemer)
		if err != nil {
			return err
		}
		in.Redeemer = b
	}
	return nil
}

// Output defines a new UTXO. Datum and ReferenceScript are optional eUTXO
// fields: Datum carries opaque state attached to the output (consulted by
// the script, never by address matching), ReferenceScript lets a later
// input point at this output's script without re-supplying it.
type Output struct {
	Value           uint64           `json:"value"`
	Script          types.Script     `json:"script"`
	Token           *types.TokenData `json:"token,omitempty"`
	Datum           []byte           `json:"datum,omitempty"`
	ReferenceScript []byte           `json:"reference_script,omitempty"`
}

// IsEUTXO reports whether the output carries any extended-UTXO fields
// beyond a plain locking script, per the eUTXO cost/validation rules.
func (o Output) IsEUTXO() bool {
	return len(o.Datum) > 0 || len(o.ReferenceScript) > 0
}

// Hash computes the transaction ID (BLAKE3 hash of the serialized signing data).
// This excludes signatures to avoid circular dependency.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for signing.
// Format: version(4) | input_count(4) | [prevout(36)]... | output_count(4) | [value(8) + script_type(1) + script_data_len(4) + script_data]... | locktime(8)
func (tx *Transaction) SigningBytes() []byte {
	var buf []byte

	// Version.
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	// Input count + prevouts (no signatures, except coinbase data).
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		// Include coinbase data (height) in the hash so each coinbase tx
		// has a unique ID. Regular inputs skip this (signature is excluded
		// to avoid circular dependency during signing).
		if in.PrevOut.IsZero() && len(in.Signature) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
			buf = append(buf, in.Signature...)
		}
		if len(in.Redeemer) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Redeemer)))
			buf = append(buf, in.Redeemer...)
		}
	}

	// Output count + outputs.
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
		if out.Token != nil {
			buf = append(buf, out.Token.ID[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, out.Token.Amount)
		}
		if len(out.Datum) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Datum)))
			buf = append(buf, out.Datum...)
		}
		if len(out.ReferenceScript) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.ReferenceScript)))
			buf = append(buf, out.ReferenceScript...)
		}
	}

	// Locktime.
	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}
