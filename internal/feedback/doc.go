// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feedback records per-message ratings, preferring the remote store
// and degrading to local-only storage.
//
// A rating is keyed per message and last-write-wins. Where it lands depends
// on the message and the network: messages without a durable backend id and
// sessions that only exist locally never produce a remote call; disconnected
// writes are buffered in the offline queue for replay; authorization
// failures degrade silently. In every case the local ratings map holds the
// value, so the display survives a reload.
//
// # Key Types
//
//   - Manager: resolution logic over the remote store, local map, and queue
//
// # Usage
//
//	mgr := feedback.NewManager(client, cache, queue)
//	if err := mgr.Rate(ctx, sessionID, msg, chat.RatingUp); err != nil {
//	    // only invalid input reaches here; degraded writes are absorbed
//	}
//
// On reconnect, hand the replay function to the queue:
//
//	queue.Drain(ctx, mgr.ApplyQueued)
package feedback
