// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for assistant sessions and messages.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// RATING TYPE
// =============================================================================

// Rating is a per-message feedback value. Last write wins.
type Rating int

const (
	RatingNone Rating = 0
	RatingUp   Rating = 1
	RatingDown Rating = -1
)

// IsValid reports whether the rating is one of the known values.
func (r Rating) IsValid() bool {
	return r == RatingNone || r == RatingUp || r == RatingDown
}

// String returns the string representation of the rating.
func (r Rating) String() string {
	switch r {
	case RatingUp:
		return "up"
	case RatingDown:
		return "down"
	default:
		return "none"
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
//
// A message is created with a locally minted identifier (see NewLocalID); the
// backend assigns a durable identifier mid-stream, which replaces the local one.
// User message content is immutable once created. Assistant content grows while
// IsStreaming is true and is frozen afterward, by completion or cancellation.
type Message struct {
	// Identity
	ID        int64      `json:"id"`
	Role      Role       `json:"role"`
	Module    ModuleType `json:"module,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	IsThinking    bool            `json:"-"` // placeholder not yet cleared by content
	streamContent strings.Builder `json:"-"`

	// Terminal flags
	IsCancelled bool `json:"-"`
	IsError     bool `json:"is_error,omitempty"` // synthetic failure message

	// Feedback display state; the stored value lives in the session cache
	Rating Rating `json:"-"`

	// Backend-assigned metadata (chosen style, model, sources, ...)
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewUserMessage creates a new user message for the given module.
func NewUserMessage(module ModuleType, content string) *Message {
	return &Message{
		ID:        NewLocalID(),
		Role:      RoleUser,
		Module:    module,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates a new streaming assistant message in the
// thinking-placeholder state.
func NewAssistantMessage(module ModuleType) *Message {
	return &Message{
		ID:          NewLocalID(),
		Role:        RoleAssistant,
		Module:      module,
		Timestamp:   time.Now(),
		IsStreaming: true,
		IsThinking:  true,
	}
}

// NewErrorMessage creates a synthetic assistant message describing a failure.
// It is a regular message in the list, not a raised error.
func NewErrorMessage(module ModuleType, text string) *Message {
	return &Message{
		ID:        NewLocalID(),
		Role:      RoleAssistant,
		Module:    module,
		Content:   text,
		Timestamp: time.Now(),
		IsError:   true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// HasDurableID reports whether the backend has assigned this message a
// durable identifier. Locally minted identifiers fall in the timestamp range.
func (m *Message) HasDurableID() bool {
	return !IsLocalID(m.ID)
}

// AppendContent appends a delta to a streaming message and clears the
// thinking placeholder when the delta is non-empty.
func (m *Message) AppendContent(delta string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.WriteString(delta)
	if delta != "" {
		m.IsThinking = false
	}
}

// ReplaceContent replaces the accumulated content with an authoritative
// snapshot. Snapshot frames are full-content, never concatenated.
func (m *Message) ReplaceContent(snapshot string) {
	if !m.IsStreaming {
		return
	}
	m.streamContent.Reset()
	m.streamContent.WriteString(snapshot)
	if snapshot != "" {
		m.IsThinking = false
	}
}

// FinalizeStream completes streaming, merging accumulated content into Content.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
	m.IsThinking = false
}

// CancelStream freezes a streaming message, retaining accumulated content and
// appending the cancellation marker. Repeated calls append the marker once.
func (m *Message) CancelStream(marker string) {
	if m.IsCancelled {
		return
	}
	m.FinalizeStream()
	m.IsCancelled = true
	if marker != "" {
		if m.Content != "" {
			m.Content += "\n\n" + marker
		} else {
			m.Content = marker
		}
	}
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.GetDisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Clone returns a copy of the message safe to hand to callers. The streaming
// accumulator is flattened into Content.
func (m *Message) Clone() *Message {
	c := &Message{
		ID:          m.ID,
		Role:        m.Role,
		Module:      m.Module,
		Timestamp:   m.Timestamp,
		Content:     m.GetDisplayContent(),
		IsStreaming: m.IsStreaming,
		IsThinking:  m.IsThinking,
		IsCancelled: m.IsCancelled,
		IsError:     m.IsError,
		Rating:      m.Rating,
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing information for one streaming exchange.
type Statistics struct {
	StartTime      time.Time
	FirstFrameTime time.Time
	EndTime        time.Time

	FrameCount int

	// Derived metrics (computed on Finalize)
	TTFF          time.Duration // time to first frame
	TotalDuration time.Duration
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFrame records the arrival of one frame.
func (s *Statistics) RecordFrame() {
	s.FrameCount++
	if s.FirstFrameTime.IsZero() {
		s.FirstFrameTime = time.Now()
		s.TTFF = s.FirstFrameTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize() {
	s.EndTime = time.Now()
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
}

// Format returns a one-line summary of the statistics.
func (s *Statistics) Format() string {
	return fmt.Sprintf("%.1fs | %d frames | TTFF %dms",
		s.TotalDuration.Seconds(), s.FrameCount, s.TTFF.Milliseconds())
}
