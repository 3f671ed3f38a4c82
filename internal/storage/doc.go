// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable local mirror of session state.
//
// This package persists each session's message list and feedback map as JSON
// files on local disk, written through synchronously on every mutation. The
// mirror serves two purposes: it is the fallback source when the backend
// cannot be reached, and it preserves streamed content across a crash up to
// the last applied frame.
//
// # Key Types
//
//   - Cache: JSON-file-per-session store with an in-memory read mirror
//   - Stats: Cache content summary for status display
//
// # Layout
//
// One file per session per concern, under the cache root:
//
//	sess_<id>.json     Session summary plus ordered message list
//	ratings_<id>.json  Message id to rating map for local feedback
//
// # Usage
//
// Open the cache and write through after a mutation:
//
//	cache, err := storage.NewCache(dir)
//	if err := cache.Write(session, messages); err != nil {
//	    log.Printf("WARNING: Cache write failed: %v", err)
//	}
//
// Fall back to the cache when a remote read fails:
//
//	messages, ok := cache.Read(sessionID)
//
// A write failure is logged and tolerated, never propagated into the
// operation that triggered the write.
package storage
