package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// Sealer encrypts and decrypts token material. Any AEAD-capable primitive
// with server-held keys satisfies the contract; the default implementation
// is AES-256-GCM with a random nonce prepended to the ciphertext.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// aesKeyBytes is the required key length for AES-256.
const aesKeyBytes = 32

// ErrSealedDataCorrupt indicates ciphertext that fails authentication —
// either tampering or a key rotation without re-encryption.
var ErrSealedDataCorrupt = errors.New("vault: sealed data corrupt or wrong key")

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer creates a Sealer from a 32-byte server-side key.
// The key is derived from a server secret, never from user input.
func NewAESSealer(key []byte) (*AESSealer, error) {
	if len(key) != aesKeyBytes {
		return nil, fmt.Errorf("vault: sealing key must be %d bytes, got %d", aesKeyBytes, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce||ciphertext produced by Seal.
func (s *AESSealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return nil, ErrSealedDataCorrupt
	}

	nonce, sealed := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrSealedDataCorrupt
	}

	return plaintext, nil
}
