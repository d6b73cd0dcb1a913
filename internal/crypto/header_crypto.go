// Package crypto implements the two cryptographic concerns of the serving
// core: AEAD-at-rest encryption of ProxyRule.headerConfig.add values, and
// signed sticky-session cookies.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
)

// HeaderCipher encrypts/decrypts ProxyRule header-add values using
// AES-256-GCM, keyed by ENCRYPTION_KEY. The wire format is bit-exact with
// §6: hex(iv12) ":" hex(tag16) ":" hex(ciphertext).
type HeaderCipher struct {
	aead cipher.AEAD
}

// NewHeaderCipher builds a HeaderCipher from a 32-byte key.
func NewHeaderCipher(key []byte) (*HeaderCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return &HeaderCipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns the wire-format string.
func (c *HeaderCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// crypto/cipher.AEAD.Seal appends the tag to the ciphertext; split it
	// back out so the wire format can store iv/tag/ciphertext separately.
	tagSize := c.aead.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens a wire-format string produced by Encrypt. Per §6, any
// decryption failure is logged and the literal input is returned
// unchanged (backward compatibility with dev data seeded before
// encryption was introduced).
func (c *HeaderCipher) Decrypt(wire string) string {
	plain, err := c.decrypt(wire)
	if err != nil {
		log.Printf("[crypto] header value decryption failed, passing through literal value: %v", err)
		return wire
	}
	return plain
}

func (c *HeaderCipher) decrypt(wire string) (string, error) {
	parts := strings.SplitN(wire, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed wire format")
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("bad iv length %d", len(nonce))
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plain), nil
}
