// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for assistant sessions and messages.
//
// This package defines the core domain types used throughout the application
// for representing assistant sessions, messages, modules, and ratings.
//
// # Key Types
//
//   - Session: A conversation thread with a title and update timestamp
//   - Message: Single message with role, content, and streaming state
//   - ModuleType: Assistant module enumeration (general, grammar, qa, ...)
//   - Rating: Thumbs up/down feedback on an assistant message
//   - SendOptions: Optional per-request parameters (style, plan type, model)
//
// # Session Identity
//
// Sessions created by the backend carry small integer IDs. Sessions created
// while offline carry local IDs minted from the current Unix-millisecond
// clock, which keeps the two ranges disjoint. Use IsLocalID to tell them
// apart:
//
//	if chat.IsLocalID(sess.ID) {
//	    // never persisted remotely
//	}
//
// # Usage
//
// Create a session and append a message:
//
//	sess := chat.NewLocalSession("Draft notes")
//	msg := chat.NewUserMessage(chat.ModuleGeneral, "Hello!")
//
// Accumulate a streamed assistant reply:
//
//	reply := chat.NewAssistantMessage(chat.ModuleGeneral)
//	reply.AppendContent("Hel")
//	reply.AppendContent("lo!")
//	reply.FinalizeStream()
package chat
