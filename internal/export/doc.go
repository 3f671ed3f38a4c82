// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders session transcripts to portable formats.
//
// Two formats are supported: Markdown with YAML frontmatter, for reading and
// publishing, and JSON, as a faithful machine-readable copy. Exporters work
// from a session and its message list; they never touch the network or the
// session cache.
//
// # Usage
//
//	e, _ := export.ForFormat("markdown", nil)
//	path, err := export.WriteTranscript(e, session, messages, nil)
package export
