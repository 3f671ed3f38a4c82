// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend implements the HTTP client for the writing assistant API.
//
// This package covers the wire layer: the REST client with retry logic, the
// streaming exchange with its state machine, and the frame decoder for the
// newline-delimited streaming protocol.
//
// # Key Types
//
//   - Client: REST client with auth, retries, and response size limits
//   - StreamSession: One streaming exchange (idle → sending → streaming → terminal)
//   - Frame: Tagged union of protocol units (ChunkFrame, MessageIDFrame, DoneFrame)
//   - Parser: Incremental frame decoder with a partial-record buffer
//   - Payload: Module-agnostic request envelope
//
// # Usage
//
// Open a stream and consume frames:
//
//	sess, err := client.OpenStream(ctx, sessionID, payload)
//	if err != nil {
//	    // fall back to client.SendMessage
//	}
//	for frame := range sess.Frames() {
//	    switch f := frame.(type) {
//	    case backend.ChunkFrame:
//	        // apply delta or snapshot
//	    case backend.MessageIDFrame:
//	        // record durable message id
//	    case backend.DoneFrame:
//	    }
//	}
package backend
