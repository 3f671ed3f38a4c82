// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets encrypts credentials at rest with AES-256-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/inkwell/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes)
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2-SHA-256 key
// derivation. OWASP recommends 600,000+ against modern hardware.
const PBKDF2Iterations = 600000

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotInitialized indicates no key material is loaded
	ErrNotInitialized = errors.New("encryption not initialized")
	// ErrInvalidCiphertext indicates the ciphertext format is invalid
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data)
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// =============================================================================
// HELPERS
// =============================================================================

// ZeroBytes zeros sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateKey generates a cryptographically secure random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateSalt generates a cryptographically secure random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives an encryption key from a password and salt using
// PBKDF2-SHA-256 (NIST SP 800-132).
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// IsEncrypted checks if a string value is encrypted (has ENC: prefix).
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// =============================================================================
// KEEPER
// =============================================================================

// Keeper holds the loaded key material for encrypting credentials at rest.
// Values on disk carry the ENC: prefix; DecryptString passes unprefixed
// values through unchanged so plaintext configs keep working.
type Keeper struct {
	mu   sync.RWMutex
	aead cipher.AEAD
}

// Open loads the master key at keyPath, generating and storing a new one on
// first use. The key file is created 0600 in a 0700 directory.
func Open(keyPath string) (*Keeper, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}

		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}
		// RELIABILITY: Atomic write with fsync prevents data loss on crash
		if err := util.AtomicWriteFile(keyPath, key, 0600); err != nil {
			ZeroBytes(key)
			return nil, fmt.Errorf("failed to store key file: %w", err)
		}
	}
	defer ZeroBytes(key)

	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", filepath.Base(keyPath), len(key), KeySize)
	}
	return newKeeper(key)
}

// OpenWithPassword derives the key from a password via PBKDF2, keeping only
// the salt on disk (at keyPath + ".salt", created on first use). A wrong
// password surfaces as ErrDecryptionFailed on the first decrypt.
func OpenWithPassword(keyPath, password string) (*Keeper, error) {
	saltPath := keyPath + ".salt"

	salt, err := os.ReadFile(saltPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		salt, err = GenerateSalt()
		if err != nil {
			return nil, err
		}
		// RELIABILITY: Atomic write with fsync prevents data loss on crash
		if err := util.AtomicWriteFile(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to store salt file: %w", err)
		}
	}

	key := DeriveKey(password, salt)
	defer ZeroBytes(key)

	return newKeeper(key)
}

func newKeeper(key []byte) (*Keeper, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return &Keeper{aead: gcm}, nil
}

// =============================================================================
// ENCRYPTION OPERATIONS
// =============================================================================

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns: nonce || ciphertext || tag
func (k *Keeper) Encrypt(plaintext []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.aead == nil {
		return nil, ErrNotInitialized
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext in nonce || ciphertext || tag layout.
func (k *Keeper) Decrypt(ciphertext []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.aead == nil {
		return nil, ErrNotInitialized
	}
	if len(ciphertext) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts a string and returns base64 ciphertext with the
// ENC: prefix.
func (k *Keeper) EncryptString(plaintext string) (string, error) {
	ciphertext, err := k.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts a base64 string carrying the ENC: prefix. Values
// without the prefix are returned as-is.
func (k *Keeper) DecryptString(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	plaintext, err := k.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
