package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/zeebo/blake3"
)

// FNDSA is a stateless-use, hash-based signature scheme — the conservative
// post-quantum fallback category (Winternitz one-time chains over BLAKE3,
// the same family SLH-DSA/SPHINCS+ build on). It trades key/signature size
// for security that does not depend on the discrete-log problem.
//
// wotsW is the Winternitz parameter: each digit ranges over [0, wotsW-1]
// and costs one hash-chain step per unit of value.
const (
	wotsW           = 16 // 4 bits per digit
	wotsMsgDigits   = 64 // 256-bit hash / 4 bits
	wotsChecksumLen = 3  // enough digits to hold max checksum = 64*15 = 960
	wotsDigitCount  = wotsMsgDigits + wotsChecksumLen
)

// FNDSAPrivateKey derives all Winternitz chains from a single 32-byte seed.
type FNDSAPrivateKey struct {
	seed [32]byte
}

// GenerateFNDSAKeyPair creates a fresh FN-DSA-style key pair.
func GenerateFNDSAKeyPair() (KeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate fndsa seed: %w", err)
	}
	return &FNDSAPrivateKey{seed: seed}, nil
}

// FNDSAKeyPairFromSeed reconstructs a deterministic FN-DSA key pair from a
// caller-supplied 32-byte seed, mirroring PrivateKeyFromBytes for the
// secp256k1 scheme. Used by internal/wallet to derive a scheme-tagged key
// at a BIP-44 path without a second independent source of randomness.
func FNDSAKeyPairFromSeed(seed [32]byte) KeyPair {
	return &FNDSAPrivateKey{seed: seed}
}

func (k *FNDSAPrivateKey) Scheme() SchemeID { return SchemeFNDSA }

// Zero scrubs the seed from memory.
func (k *FNDSAPrivateKey) Zero() {
	for i := range k.seed {
		k.seed[i] = 0
	}
}

// chain applies BLAKE3 iteratively `steps` times starting from x.
func chain(x [32]byte, steps int) [32]byte {
	cur := x
	for i := 0; i < steps; i++ {
		cur = blake3.Sum256(cur[:])
	}
	return cur
}

func (k *FNDSAPrivateKey) skElement(i int) [32]byte {
	var buf [34]byte
	copy(buf[:32], k.seed[:])
	buf[32] = byte(i >> 8)
	buf[33] = byte(i)
	return blake3.Sum256(buf[:])
}

func (k *FNDSAPrivateKey) pkElement(i int) [32]byte {
	return chain(k.skElement(i), wotsW-1)
}

// PublicKey serializes all wotsDigitCount chain tops.
func (k *FNDSAPrivateKey) PublicKey() []byte {
	out := make([]byte, 0, wotsDigitCount*32)
	for i := 0; i < wotsDigitCount; i++ {
		pk := k.pkElement(i)
		out = append(out, pk[:]...)
	}
	return out
}

// wotsDigits derives the signing digits from a 32-byte message hash: 64
// base-16 message digits followed by a checksum encoded in 3 more digits.
func wotsDigits(hash []byte) []int {
	digits := make([]int, 0, wotsDigitCount)
	for _, b := range hash {
		digits = append(digits, int(b>>4), int(b&0x0f))
	}
	checksum := 0
	for _, d := range digits {
		checksum += (wotsW - 1) - d
	}
	for i := wotsChecksumLen - 1; i >= 0; i-- {
		shift := uint(i * 4)
		digits = append(digits, (checksum>>shift)&0x0f)
	}
	return digits
}

// Sign produces a Winternitz one-time signature over a 32-byte hash.
// The key must only be used to sign a single message; reuse breaks the
// security of the scheme (the usual hash-based-signature caveat).
func (k *FNDSAPrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	digits := wotsDigits(hash)
	sig := make([]byte, 0, wotsDigitCount*32)
	for i, d := range digits {
		s := chain(k.skElement(i), d)
		sig = append(sig, s[:]...)
	}
	return sig, nil
}

// VerifyFNDSA checks a Winternitz signature against a hash and serialized public key.
func VerifyFNDSA(hash, signature, publicKey []byte) bool {
	if len(hash) != 32 {
		return false
	}
	if len(signature) != wotsDigitCount*32 || len(publicKey) != wotsDigitCount*32 {
		return false
	}
	digits := wotsDigits(hash)
	for i, d := range digits {
		var sigEl [32]byte
		copy(sigEl[:], signature[i*32:(i+1)*32])
		recomputed := chain(sigEl, wotsW-1-d)
		if recomputed != ([32]byte)(publicKey[i*32:(i+1)*32]) {
			return false
		}
	}
	return true
}
