// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package feedback records per-message ratings, preferring the remote store
// and degrading to local-only storage.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/backend"
	"github.com/jeranaias/inkwell/internal/offline"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// remoteStore is the slice of the backend client feedback needs.
type remoteStore interface {
	SendFeedback(ctx context.Context, messageID int64, rating int) error
}

// localStore is the slice of the session cache feedback needs.
type localStore interface {
	WriteRating(sessionID, messageID int64, rating chat.Rating) error
	Ratings(sessionID int64) map[int64]chat.Rating
}

// queuedFeedback is the durable payload replayed on reconnect.
type queuedFeedback struct {
	SessionID int64 `json:"session_id"`
	MessageID int64 `json:"message_id"`
	Rating    int   `json:"rating"`
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager resolves where a rating is stored. The remote store is preferred;
// ratings degrade to the local map for messages without a durable identifier,
// for unauthenticated users, and whenever the backend cannot be reached.
//
// The caller applies the optimistic display update before Rate returns; Rate
// itself never surfaces a user-facing error for a degraded write.
type Manager struct {
	remote remoteStore
	local  localStore
	queue  *offline.Queue
}

// NewManager creates a feedback manager. queue may be nil when offline
// buffering is disabled; degraded writes then stay local-only.
func NewManager(remote remoteStore, local localStore, queue *offline.Queue) *Manager {
	return &Manager{
		remote: remote,
		local:  local,
		queue:  queue,
	}
}

// Rate records a rating for a message. Resolution order:
//
//  1. No durable message id, or a local-only session: local map only.
//  2. Disconnected: buffer in the offline queue, plus the local map.
//  3. Remote write. Authorization failure degrades silently to local;
//     any other failure degrades to local and is logged as retryable.
//
// The local map always ends up holding the rating, so the display value
// survives a reload regardless of which path ran.
func (m *Manager) Rate(ctx context.Context, sessionID int64, msg *chat.Message, rating chat.Rating) error {
	if rating != chat.RatingUp && rating != chat.RatingDown {
		return fmt.Errorf("invalid rating %d", rating)
	}

	if !msg.HasDurableID() || chat.IsLocalID(sessionID) {
		m.writeLocal(sessionID, msg.ID, rating)
		return nil
	}

	if !offline.IsOnline() {
		m.enqueue(sessionID, msg.ID, rating)
		m.writeLocal(sessionID, msg.ID, rating)
		return nil
	}

	if err := m.remote.SendFeedback(ctx, msg.ID, int(rating)); err != nil {
		if errors.Is(err, backend.ErrAuthFailed) {
			// Unauthenticated users rate locally; not worth reporting.
			m.writeLocal(sessionID, msg.ID, rating)
			return nil
		}
		log.Printf("WARNING: Feedback write for message %d failed, kept locally (retryable): %v", msg.ID, err)
		m.writeLocal(sessionID, msg.ID, rating)
		return nil
	}

	// Remote confirmed; record the confirmed value over the optimistic one.
	m.writeLocal(sessionID, msg.ID, rating)
	return nil
}

// RatingsFor returns the locally stored ratings for a session.
func (m *Manager) RatingsFor(sessionID int64) map[int64]chat.Rating {
	return m.local.Ratings(sessionID)
}

// writeLocal is best-effort; a cache failure costs the rating's durability,
// not the operation.
func (m *Manager) writeLocal(sessionID, messageID int64, rating chat.Rating) {
	if err := m.local.WriteRating(sessionID, messageID, rating); err != nil {
		log.Printf("WARNING: Failed to store rating locally: %v", err)
	}
}

func (m *Manager) enqueue(sessionID, messageID int64, rating chat.Rating) {
	if m.queue == nil {
		return
	}

	payload, err := json.Marshal(queuedFeedback{
		SessionID: sessionID,
		MessageID: messageID,
		Rating:    int(rating),
	})
	if err != nil {
		log.Printf("WARNING: Failed to encode queued feedback: %v", err)
		return
	}

	if _, err := m.queue.Enqueue(offline.KindFeedback, messageID, string(payload)); err != nil {
		log.Printf("WARNING: Failed to queue feedback for message %d: %v", messageID, err)
	}
}

// =============================================================================
// QUEUE REPLAY
// =============================================================================

// ApplyQueued replays one buffered operation against the remote store. It is
// the apply function handed to Queue.Drain on reconnect. Unknown operation
// kinds are an error so the queue keeps them instead of discarding.
func (m *Manager) ApplyQueued(ctx context.Context, op offline.Operation) error {
	if op.Kind != offline.KindFeedback {
		return fmt.Errorf("unknown queued operation kind %q", op.Kind)
	}

	var fb queuedFeedback
	if err := json.Unmarshal([]byte(op.Payload), &fb); err != nil {
		return fmt.Errorf("failed to decode queued feedback: %w", err)
	}

	if err := m.remote.SendFeedback(ctx, fb.MessageID, fb.Rating); err != nil {
		return err
	}

	// Reconcile the local copy with the now-confirmed value.
	m.writeLocal(fb.SessionID, fb.MessageID, chat.Rating(fb.Rating))
	return nil
}
