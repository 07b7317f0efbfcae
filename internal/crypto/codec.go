// Package crypto implements the symmetric codec for credential payloads.
//
// Payloads are sealed with AES-256-GCM under a key derived once per process
// from the configured secret. The wire form is base64(nonce || ciphertext),
// where the GCM tag is part of the ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	perrors "github.com/p-blackswan/credvault/internal/errors"
)

// keySalt is mixed into key derivation so the raw secret is never used as
// key material directly. Changing it invalidates every stored payload.
const keySalt = "credvault.v1:"

// DeriveKey derives a 32-byte AES-256 key from the configured secret.
// The derivation is deterministic: the same secret always yields the same
// key, so records written by a previous process remain readable.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(keySalt + secret))
	return sum[:]
}

// Codec encrypts and decrypts credential payloads. The key is immutable
// after construction and safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from the configured secret.
func NewCodec(secret string) (*Codec, error) {
	block, err := aes.NewCipher(DeriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns the
// base64-encoded blob.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Malformed or tampered blobs,
// and blobs sealed under a different secret, return ErrDecryption.
func (c *Codec) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", perrors.ErrDecryption, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: blob too short", perrors.ErrDecryption)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", perrors.ErrDecryption, err)
	}
	return string(plaintext), nil
}
