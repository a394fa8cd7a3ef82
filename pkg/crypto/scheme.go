package crypto

import "fmt"

// SchemeID tags which signing scheme a key pair uses. Stored alongside the
// key so verification can select the matching implementation without
// guessing from signature shape alone.
type SchemeID uint8

const (
	// SchemeSecp256k1Schnorr is the classical elliptic-curve scheme used for
	// everyday transaction signing.
	SchemeSecp256k1Schnorr SchemeID = 1
	// SchemeFNDSA is the post-quantum, hash-based scheme.
	SchemeFNDSA SchemeID = 2
)

func (s SchemeID) String() string {
	switch s {
	case SchemeSecp256k1Schnorr:
		return "secp256k1-schnorr"
	case SchemeFNDSA:
		return "fndsa"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// KeyPair is the capability object the Design Notes call for: a signer
// selected by an enum tag instead of by type assertion.
type KeyPair interface {
	Scheme() SchemeID
	Sign(hash []byte) ([]byte, error)
	PublicKey() []byte
	// Zero scrubs the private key material from memory. Safe to call more
	// than once.
	Zero()
}

// VerifyWithScheme dispatches to the verifier matching the scheme tag. The
// zero SchemeID (unset on inputs signed before per-input scheme tagging
// existed) is treated as SchemeSecp256k1Schnorr rather than rejected, so
// the dispatch stays backward compatible with transactions that never set
// Input.Scheme.
func VerifyWithScheme(scheme SchemeID, hash, signature, publicKey []byte) bool {
	switch scheme {
	case SchemeSecp256k1Schnorr, 0:
		return VerifySignature(hash, signature, publicKey)
	case SchemeFNDSA:
		return VerifyFNDSA(hash, signature, publicKey)
	default:
		return false
	}
}

// NewSecp256k1KeyPair returns pk as a KeyPair. PrivateKey satisfies the
// interface directly (see Scheme in signature.go); this exists so callers
// that want to be explicit about which scheme they're selecting don't need
// to know that.
func NewSecp256k1KeyPair(pk *PrivateKey) KeyPair {
	return pk
}

// GenerateKeyPair creates a fresh key pair for the given scheme.
func GenerateKeyPair(scheme SchemeID) (KeyPair, error) {
	switch scheme {
	case SchemeSecp256k1Schnorr:
		pk, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		return NewSecp256k1KeyPair(pk), nil
	case SchemeFNDSA:
		return GenerateFNDSAKeyPair()
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}
