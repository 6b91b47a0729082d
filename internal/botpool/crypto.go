// ABOUTME: Credential encryption for bot instances using NaCl secretbox
// ABOUTME: Plaintext credentials exist only in memory; the store sees ciphertext

package botpool

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed indicates the ciphertext could not be authenticated or decrypted.
var ErrDecryptFailed = errors.New("credential decryption failed")

const keySize = 32

// Cipher seals and opens bot credentials with a symmetric key.
type Cipher struct {
	key [keySize]byte
}

// NewCipher creates a Cipher from a hex-encoded 32-byte key.
func NewCipher(hexKey string) (*Cipher, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(raw))
	}
	c := &Cipher{}
	copy(c.key[:], raw)
	return c, nil
}

// GenerateKey returns a fresh hex-encoded key suitable for NewCipher.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// Encrypt seals plaintext and returns base64 ciphertext with the nonce prepended.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < 24 {
		return "", ErrDecryptFailed
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(opened), nil
}
