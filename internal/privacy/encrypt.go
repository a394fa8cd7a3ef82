package privacy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kaslum/kaslum-node/pkg/crypto"
)

// encryptAmount seals a plaintext amount under a symmetric key so only the
// holder of the key (typically derived from a wallet view key — key
// derivation itself is the external wallet collaborator's job) can recover
// it. Ciphertext format: nonce(12) || sealed(8+16).
func encryptAmount(amount uint64, key []byte) ([]byte, error) {
	aeadKey := crypto.Hash(key)
	aead, err := chacha20poly1305.New(aeadKey[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	plain := make([]byte, 8)
	binary.BigEndian.PutUint64(plain, amount)

	sealed := aead.Seal(nil, nonce, plain, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptAmount recovers the plaintext amount sealed by encryptAmount.
func DecryptAmount(ciphertext, key []byte) (uint64, error) {
	aeadKey := crypto.Hash(key)
	aead, err := chacha20poly1305.New(aeadKey[:])
	if err != nil {
		return 0, fmt.Errorf("init aead: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return 0, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:aead.NonceSize()]
	sealed := ciphertext[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}
	if len(plain) != 8 {
		return 0, fmt.Errorf("unexpected plaintext length %d", len(plain))
	}
	return binary.BigEndian.Uint64(plain), nil
}
