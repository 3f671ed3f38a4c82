// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for assistant sessions and messages.
package chat

import (
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/inkwell/internal/util"
)

// =============================================================================
// LOCAL IDENTIFIERS
// =============================================================================

// LocalIDThreshold separates backend-assigned identifiers (small integers)
// from locally minted ones (Unix-millisecond timestamps). Any identifier at
// or above the threshold is local.
const LocalIDThreshold int64 = 1_000_000_000_000

// TitleMaxLen is the maximum rune length of a derived session title.
const TitleMaxLen = 50

var lastLocalID atomic.Int64

// NewLocalID mints a process-unique local identifier from the current
// Unix-millisecond clock, bumping past the previous value on collision so
// identifiers stay strictly increasing.
func NewLocalID() int64 {
	for {
		id := time.Now().UnixMilli()
		last := lastLocalID.Load()
		if id <= last {
			id = last + 1
		}
		if lastLocalID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// IsLocalID reports whether an identifier falls in the locally minted
// timestamp range.
func IsLocalID(id int64) bool {
	return id >= LocalIDThreshold
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds the metadata of one chat session. Message lists are kept
// separately, keyed by session id.
//
// A session is local-only when its identifier is locally minted: it was
// created before (or without) backend confirmation and its messages are never
// persisted remotely beyond a best-effort promotion attempt.
type Session struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// NewLocalSession creates a provisional session with a locally minted id.
func NewLocalSession(title string) *Session {
	now := time.Now()
	return &Session{
		ID:        NewLocalID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsLocal reports whether the session exists only on this client.
func (s *Session) IsLocal() bool {
	return IsLocalID(s.ID)
}

// Touch bumps the update timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// Clone returns a copy of the session metadata.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// DeriveTitle builds a session title from message content: NFC-normalized,
// whitespace-collapsed, rune-truncated at TitleMaxLen.
func DeriveTitle(content string) string {
	title := norm.NFC.String(content)
	title = strings.Join(strings.Fields(title), " ")
	return util.TruncateRunes(title, TitleMaxLen)
}
