// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline provides the process-wide connectivity signal and the
// durable queue for writes issued while disconnected.
package offline

import (
	"sort"
	"sync"
)

// =============================================================================
// CONNECTIVITY SIGNAL
// =============================================================================

// Process-wide connectivity state with thread-safe access. The process starts
// online; the host flips the signal from its network observer.
var (
	signalMu    sync.RWMutex
	online      = true
	subscribers = make(map[int]func(online bool))
	nextSubID   int
)

// SetOnline records a connectivity change. Subscribers are notified only on
// an actual transition, outside the lock, in registration order.
func SetOnline(isOnline bool) {
	signalMu.Lock()
	if online == isOnline {
		signalMu.Unlock()
		return
	}
	online = isOnline

	ids := make([]int, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}
	// Map iteration order is random; sort for deterministic delivery.
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subscribers[id])
	}
	signalMu.Unlock()

	for _, fn := range fns {
		fn(isOnline)
	}
}

// IsOnline returns the current connectivity state.
func IsOnline() bool {
	signalMu.RLock()
	defer signalMu.RUnlock()
	return online
}

// Subscribe registers a callback for connectivity transitions and returns an
// unsubscribe function. The callback sees only transitions, not the state at
// registration time.
func Subscribe(fn func(online bool)) func() {
	signalMu.Lock()
	id := nextSubID
	nextSubID++
	subscribers[id] = fn
	signalMu.Unlock()

	return func() {
		signalMu.Lock()
		delete(subscribers, id)
		signalMu.Unlock()
	}
}

// =============================================================================
// STATUS DISPLAY
// =============================================================================

// StatusBadge returns a formatted badge for the prompt.
// Returns "[OFFLINE]" when disconnected, empty string otherwise.
func StatusBadge() string {
	if IsOnline() {
		return ""
	}
	return "[OFFLINE]"
}
