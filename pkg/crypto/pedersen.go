package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/kaslum/kaslum-node/pkg/types"
	"github.com/zeebo/blake3"
)

// Pedersen commitments reuse the secp256k1 group already wired for
// signing (C1): C = v*G + r*H, where G is the curve's standard base point
// and H is a second generator with no known discrete-log relationship to
// G (a "nothing up my sleeve" point derived by hashing a fixed label and
// walking candidate x-coordinates until one decompresses).

var generatorH = deriveGeneratorH()

// deriveGeneratorH finds a valid curve point from a fixed label by
// try-and-increment: hash the label plus a counter, treat the hash as a
// candidate x-coordinate, and accept the first one that lies on the curve.
func deriveGeneratorH() secp256k1.JacobianPoint {
	label := []byte("kaslum-pedersen-generator-h")
	for ctr := uint32(0); ; ctr++ {
		buf := make([]byte, len(label)+4)
		copy(buf, label)
		buf[len(label)] = byte(ctr >> 24)
		buf[len(label)+1] = byte(ctr >> 16)
		buf[len(label)+2] = byte(ctr >> 8)
		buf[len(label)+3] = byte(ctr)
		digest := blake3.Sum256(buf)

		var x secp256k1.FieldVal
		if overflow := x.SetByteSlice(digest[:]); overflow {
			continue
		}
		var y secp256k1.FieldVal
		if !secp256k1.DecompressY(&x, false, &y) {
			continue
		}
		var p secp256k1.JacobianPoint
		p.X.Set(&x)
		p.Y.Set(&y)
		p.Z.SetInt(1)
		return p
	}
}

// RandomBlinding returns fresh 32 bytes of blinding-factor randomness.
func RandomBlinding() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random blinding: %w", err)
	}
	return b, nil
}

func scalarFromUint64(v uint64) secp256k1.ModNScalar {
	var s secp256k1.ModNScalar
	s.SetInt(0)
	var buf [8]byte
	buf[0] = byte(v >> 56)
	buf[1] = byte(v >> 48)
	buf[2] = byte(v >> 40)
	buf[3] = byte(v >> 32)
	buf[4] = byte(v >> 24)
	buf[5] = byte(v >> 16)
	buf[6] = byte(v >> 8)
	buf[7] = byte(v)
	var full [32]byte
	copy(full[24:], buf[:])
	s.SetBytes(&full)
	return s
}

func scalarFromBytes(b []byte) (secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if len(b) != 32 {
		return s, fmt.Errorf("blinding factor must be 32 bytes, got %d", len(b))
	}
	var arr [32]byte
	copy(arr[:], b)
	if overflow := s.SetBytes(&arr); overflow != 0 {
		return s, fmt.Errorf("blinding factor out of range")
	}
	return s, nil
}

// CommitPoint returns the affine JacobianPoint for C = v*G + r*H.
func commitPoint(value uint64, blinding []byte) (secp256k1.JacobianPoint, error) {
	var result secp256k1.JacobianPoint

	rScalar, err := scalarFromBytes(blinding)
	if err != nil {
		return result, err
	}
	vScalar := scalarFromUint64(value)

	var vG, rH secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&vScalar, &vG)
	secp256k1.ScalarMultNonConst(&rScalar, &generatorH, &rH)

	secp256k1.AddNonConst(&vG, &rH, &result)
	result.ToAffine()
	return result, nil
}

// serializePoint encodes an affine point as 33-byte compressed form
// (0x02/0x03 prefix + 32-byte X), matching secp256k1 pubkey conventions.
func serializePoint(p *secp256k1.JacobianPoint) []byte {
	out := make([]byte, 33)
	if p.Y.IsOdd() {
		out[0] = 0x03
	} else {
		out[0] = 0x02
	}
	xBytes := p.X.Bytes()
	copy(out[1:], xBytes[:])
	return out
}

// Commit computes a Pedersen commitment C = v*G + r*H and returns its
// 33-byte compressed encoding.
func Commit(value uint64, blinding []byte) ([]byte, error) {
	p, err := commitPoint(value, blinding)
	if err != nil {
		return nil, err
	}
	return serializePoint(&p), nil
}

// VerifyCommitment recomputes C from (value, blinding) and compares to the
// supplied commitment bytes. Commit is a function, not a relation: this is
// the only way to "open" it.
func VerifyCommitment(commitment []byte, value uint64, blinding []byte) bool {
	recomputed, err := Commit(value, blinding)
	if err != nil {
		return false
	}
	if len(commitment) != len(recomputed) {
		return false
	}
	for i := range commitment {
		if commitment[i] != recomputed[i] {
			return false
		}
	}
	return true
}

// AddCommitments homomorphically sums compressed commitments: useful for
// checking Σ C_in = Σ C_out + C_fee on the curve without opening any of them.
func AddCommitments(commitments ...[]byte) ([]byte, error) {
	var acc secp256k1.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0) // point at infinity

	for _, c := range commitments {
		pub, err := secp256k1.ParsePubKey(c)
		if err != nil {
			return nil, fmt.Errorf("parse commitment: %w", err)
		}
		var p secp256k1.JacobianPoint
		pub.AsJacobian(&p)

		var sum secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, &p, &sum)
		acc = sum
	}
	acc.ToAffine()
	return serializePoint(&acc), nil
}

// UtxoValidityProofTag computes a binding tag over a commitment and an
// arbitrary body, used by the range proof and input validity proof formats:
// tag = H(C ‖ body). Verification recomputes the tag and compares.
func UtxoValidityProofTag(commitment, body []byte) types.Hash {
	buf := make([]byte, 0, len(commitment)+len(body))
	buf = append(buf, commitment...)
	buf = append(buf, body...)
	return Hash(buf)
}

// CommitmentsEqual compares two compressed commitments for equality.
func CommitmentsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
