package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the standard nonce size for GCM (12 bytes)
	NonceSize = 12
	// KeySize is the key size for AES-256 (32 bytes)
	KeySize = 32
)

// ErrDecryptionFailure is returned for any tampered, foreign-key or
// malformed ciphertext. Open fails closed: callers never see partial or
// garbled plaintext.
var ErrDecryptionFailure = errors.New("decryption failure")

// ParseKeyHex decodes a hex-encoded 256-bit pre-shared key. The key is
// provisioned out-of-band to both ends; this package never manages
// distribution or rotation.
func ParseKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid relay key encoding: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("relay key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
// Format: Nonce (12 bytes) || Ciphertext (including tag).
// The associated data binds the ciphertext to its routing slot (request id
// and direction), so it cannot be replayed elsewhere.
func Seal(key, plaintext, associatedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, associatedData)

	sealed := make([]byte, 0, NonceSize+len(ciphertext))
	sealed = append(sealed, nonce...)
	sealed = append(sealed, ciphertext...)
	return sealed, nil
}

// Open decrypts a Seal-produced blob. Any tampering, wrong key or wrong
// associated data yields ErrDecryptionFailure.
func Open(key, sealed, associatedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < NonceSize+gcm.Overhead() {
		return nil, ErrDecryptionFailure
	}

	nonce := sealed[:NonceSize]
	ciphertext := sealed[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}
