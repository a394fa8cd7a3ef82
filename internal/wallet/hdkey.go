package wallet

import (
	"fmt"

	"github.com/kaslum/kaslum-node/pkg/crypto"
	"github.com/kaslum/kaslum-node/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 derivation path constants.
// Full path: m/44'/CoinType'/account'/change/index
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeKaslum is our registered (placeholder) coin type (hardened).
	// TODO: Register an actual coin type number.
	CoinTypeKaslum = bip32.FirstHardenedChild + 8888

	// ChangeExternal is for receiving addresses.
	ChangeExternal = 0

	// ChangeInternal is for change addresses.
	ChangeInternal = 1
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveAddress derives the key at m/44'/8888'/account'/change/index.
func (k *HDKey) DeriveAddress(account, change, index uint32) (*HDKey, error) {
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeKaslum,
		bip32.FirstHardenedChild+account,
		change,
		index,
	)
}

// PrivateKeyBytes returns the raw 32-byte private key.
// Returns nil if this is a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	pub := k.key.PublicKey()
	return pub.Key
}

// Signer returns a crypto.Signer from this HD key's private key.
// Returns error if this is a public-only key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// fndsaSeed derives a 32-byte FN-DSA seed from this HD path's secp256k1
// private key, domain-separated so the same path never produces the same
// secret material for both schemes. FN-DSA has no BIP-32 tree of its own;
// this reuses the already-derived-per-path secp256k1 key as entropy rather
// than requiring a second master seed.
func (k *HDKey) fndsaSeed() ([32]byte, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return [32]byte{}, fmt.Errorf("cannot derive fndsa seed from public key")
	}
	buf := make([]byte, 0, len(priv)+6)
	buf = append(buf, priv...)
	buf = append(buf, []byte("fndsa")...)
	return crypto.Hash(buf), nil
}

// KeyPair returns the crypto.KeyPair for this HD path under the given
// scheme, dispatching between the secp256k1 signer and a deterministic
// FN-DSA key derived from the same path (see fndsaSeed).
func (k *HDKey) KeyPair(scheme crypto.SchemeID) (crypto.KeyPair, error) {
	switch scheme {
	case crypto.SchemeFNDSA:
		seed, err := k.fndsaSeed()
		if err != nil {
			return nil, err
		}
		return crypto.FNDSAKeyPairFromSeed(seed), nil
	case crypto.SchemeSecp256k1Schnorr, 0:
		signer, err := k.Signer()
		if err != nil {
			return nil, err
		}
		return crypto.NewSecp256k1KeyPair(signer), nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %s", scheme)
	}
}

// AddressForScheme derives the spending address for the given scheme's
// public key at this HD path. Address derivation (BLAKE3 of the public
// key bytes) is scheme-agnostic, so this differs from Address() only in
// which KeyPair's PublicKey() feeds the hash.
func (k *HDKey) AddressForScheme(scheme crypto.SchemeID) (types.Address, error) {
	kp, err := k.KeyPair(scheme)
	if err != nil {
		return types.Address{}, err
	}
	return crypto.AddressFromPubKey(kp.PublicKey()), nil
}

// Address derives a Kaslum address from this key's public key.
// Address = first 20 bytes of BLAKE3(compressed_pubkey).
func (k *HDKey) Address() types.Address {
	pub := k.PublicKeyBytes()
	hash := crypto.Hash(pub)
	var addr types.Address
	copy(addr[:], hash[:types.AddressSize])
	return addr
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// Neuter returns a public-key-only copy (for watch-only wallets).
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
