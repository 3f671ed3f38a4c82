// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the application.
//
// # Key Functions
//
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//
// # Usage
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Truncate long strings safely for display
//	preview := util.TruncateRunes(longText, 50)
package util
