// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets encrypts credentials at rest with AES-256-GCM.
//
// The API token never sits in the config file as plaintext once encryption
// is active: values carry an ENC: prefix over base64(nonce|ciphertext|tag).
// Key material comes from a machine-local key file created on first use, or
// from a password via PBKDF2-SHA-256 when the user provides one.
//
// # Key Types
//
//   - Keeper: loaded key material with string and byte operations
//
// # Usage
//
//	keeper, err := secrets.Open(keyPath)
//	stored, err := keeper.EncryptString(token)   // "ENC:..."
//	token, err := keeper.DecryptString(stored)   // plaintext passes through
//
// DecryptString leaves unprefixed values untouched, so plaintext configs
// keep working until the user opts in.
package secrets
