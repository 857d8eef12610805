// Package vault encrypts per-user secrets at rest.
//
// Blobs have the form "v1:<nonce-hex>:<ciphertext-hex>" where the ciphertext
// is AES-256-GCM sealed with a key derived from a passphrase via scrypt.
// Values without the scheme prefix are treated as legacy plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"
)

const (
	schemeV1 = "v1:"

	keyLen    = 32
	nonceSize = 12

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// salt is fixed so the same passphrase always yields the same key across
// restarts; the per-blob nonce provides uniqueness.
var salt = []byte("mailwatch/credential-vault/v1")

var (
	// ErrMalformedCiphertext means the value carries the scheme prefix but
	// cannot be decoded or authenticated.
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")
	ErrEmptyPassphrase     = errors.New("vault: empty passphrase")
)

// Vault is safe for concurrent use.
type Vault struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// New derives the key once from passphrase.
func New(passphrase string, logger *zap.Logger) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}

	return &Vault{aead: aead, logger: logger}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: read nonce: %w", err)
	}
	ct := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return schemeV1 + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a blob produced by Encrypt. Unprefixed values are returned
// unchanged. Prefixed values that fail to open return the input unchanged
// together with ErrMalformedCiphertext.
func (v *Vault) Decrypt(blob string) (string, error) {
	if !IsEncrypted(blob) {
		if blob != "" {
			v.logger.Warn("Vault read a value stored without encryption")
		}
		return blob, nil
	}

	parts := strings.Split(strings.TrimPrefix(blob, schemeV1), ":")
	if len(parts) != 2 {
		return blob, ErrMalformedCiphertext
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return blob, ErrMalformedCiphertext
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) < v.aead.Overhead() {
		return blob, ErrMalformedCiphertext
	}

	pt, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return blob, ErrMalformedCiphertext
	}
	return string(pt), nil
}

// IsEncrypted reports whether s carries the vault scheme prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, schemeV1)
}
