// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline provides the process-wide connectivity signal and the
// durable queue for writes issued while disconnected.
//
// The connectivity signal is a single global flag flipped by the host's
// network observer; components subscribe to transitions rather than polling.
// The queue buffers write operations (currently feedback) in SQLite so they
// survive restarts, and replays them in order on reconnect.
//
// # Key Types
//
//   - Queue: SQLite-backed durable FIFO with single-flight draining
//   - Operation: one queued write with stable id and retry state
//   - Kind: operation class (KindFeedback)
//
// # Usage
//
// Observe connectivity and replay on reconnect:
//
//	unsubscribe := offline.Subscribe(func(online bool) {
//	    if online {
//	        go queue.Drain(ctx, applyOperation)
//	    }
//	})
//	defer unsubscribe()
//
// Buffer a write while disconnected:
//
//	id, err := queue.Enqueue(offline.KindFeedback, messageID, payload)
//
// A queued operation is retried on every reconnect until acknowledged; it is
// never discarded automatically.
package offline
