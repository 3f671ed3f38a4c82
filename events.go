// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inkwell

import (
	"time"

	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind discriminates controller events.
type EventKind string

const (
	// EventMessageAppended fires when a new message joins the active list.
	EventMessageAppended EventKind = "message-appended"

	// EventMessageUpdated fires when an existing message's content, identity,
	// or rating changes (streaming deltas included).
	EventMessageUpdated EventKind = "message-updated"

	// EventMessageCompleted fires when a streaming exchange reaches a terminal
	// state and the assistant message is frozen.
	EventMessageCompleted EventKind = "message-completed"

	// EventStreamState fires on every stream state transition observed by the
	// controller.
	EventStreamState EventKind = "stream-state"

	// EventSessionSelected fires after a session's messages are loaded and the
	// session becomes active.
	EventSessionSelected EventKind = "session-selected"

	// EventSessionDeleted fires after a session is removed.
	EventSessionDeleted EventKind = "session-deleted"

	// EventConnectivity fires when the process-wide online flag flips.
	EventConnectivity EventKind = "connectivity"

	// EventQueueDrained fires after a reconnect drain pass acknowledges at
	// least one queued operation.
	EventQueueDrained EventKind = "queue-drained"
)

// Event is one observer notification from the controller. Fields beyond Kind
// and SessionID are populated per kind; Message is always a copy safe to
// retain.
//
// Events are delivered synchronously in frame-application order on the
// goroutine that produced them. Handlers must not block and must not call back
// into the controller.
type Event struct {
	Kind      EventKind
	SessionID int64

	// Message accompanies the message-* kinds.
	Message *chat.Message

	// State accompanies stream-state events; values are the stream state wire
	// names ("sending", "streaming", "completed", "cancelled", "failed").
	State string

	// Online accompanies connectivity events.
	Online bool

	// Drained is the number of queued operations acknowledged by the drain
	// pass that produced a queue-drained event.
	Drained int
}

// QueuedOp describes one pending offline operation for status displays.
type QueuedOp struct {
	ID         string
	Kind       string
	TargetID   int64
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}
