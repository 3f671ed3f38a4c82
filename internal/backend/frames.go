// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"encoding/json"
	"log"
)

// STREAMING: Robust frame decoding with per-record error recovery

// =============================================================================
// FRAME TYPES
// =============================================================================

// dataPrefix is the sentinel that marks a line as carrying a frame. Lines
// without it (keepalives, comments, blank separators) are not ours to report.
const dataPrefix = "data: "

// Wire values of the frame type discriminant.
const (
	frameTypeChunk     = "chunk"
	frameTypeMessageID = "message-id"
	frameTypeDone      = "done"
)

// Frame is one decoded unit of the streaming protocol. The concrete types are
// ChunkFrame, MessageIDFrame, and DoneFrame; consumers switch exhaustively on
// them.
type Frame interface {
	isFrame()
}

// ChunkFrame carries incremental assistant output. When HasAccumulated is
// set, Accumulated is an authoritative full snapshot that replaces everything
// received so far; otherwise Content is a delta appended to the running
// accumulator. A frame carrying neither leaves content unchanged.
type ChunkFrame struct {
	Content        string
	Accumulated    string
	HasAccumulated bool
}

func (ChunkFrame) isFrame() {}

// MessageIDFrame announces the durable identifier the backend assigned to the
// assistant message, along with optional generation metadata. Done marks the
// frame as also ending the stream.
type MessageIDFrame struct {
	MessageID int64
	Metadata  map[string]any
	Done      bool
}

func (MessageIDFrame) isFrame() {}

// DoneFrame ends the stream.
type DoneFrame struct{}

func (DoneFrame) isFrame() {}

// IsTerminalFrame reports whether a frame ends the stream.
func IsTerminalFrame(f Frame) bool {
	switch f := f.(type) {
	case DoneFrame:
		return true
	case MessageIDFrame:
		return f.Done
	}
	return false
}

// wireFrame is the decode target for one record payload. Pointer fields
// distinguish absent keys from empty values; the chunk reconciliation rule
// depends on that distinction.
type wireFrame struct {
	Type        string         `json:"type"`
	Content     *string        `json:"content"`
	Accumulated *string        `json:"accumulated"`
	MessageID   *int64         `json:"message_id"`
	Metadata    map[string]any `json:"metadata"`
	Done        bool           `json:"done"`
}

// =============================================================================
// PARSER
// =============================================================================

// Parser decodes newline-delimited frame records from an append-only byte
// stream. Partial trailing records are buffered until more bytes arrive; a
// single malformed record is dropped with a logged diagnostic and decoding
// resumes at the next record boundary.
type Parser struct {
	rem []byte
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk of transport bytes and returns the frames
// completed by it, in arrival order.
func (p *Parser) Feed(data []byte) []Frame {
	p.rem = append(p.rem, data...)

	var frames []Frame
	for {
		i := bytes.IndexByte(p.rem, '\n')
		if i < 0 {
			break
		}
		line := p.rem[:i]
		p.rem = p.rem[i+1:]

		if f, ok := parseRecord(line); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush decodes a record still buffered without a trailing newline. Call once
// when the transport reaches end of stream.
func (p *Parser) Flush() []Frame {
	if len(p.rem) == 0 {
		return nil
	}
	line := p.rem
	p.rem = nil

	if f, ok := parseRecord(line); ok {
		return []Frame{f}
	}
	return nil
}

// parseRecord decodes one line into a Frame. Blank and non-sentinel lines are
// skipped silently; sentinel lines that fail to decode are dropped with a
// warning. Decoding never fails the stream for a single bad record.
func parseRecord(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))

	if len(bytes.TrimSpace(line)) == 0 {
		return nil, false
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}

	payload := line[len(dataPrefix):]

	var w wireFrame
	if err := json.Unmarshal(payload, &w); err != nil {
		log.Printf("WARNING: dropping malformed stream record: %v", err)
		return nil, false
	}

	switch w.Type {
	case frameTypeChunk:
		f := ChunkFrame{}
		if w.Content != nil {
			f.Content = *w.Content
		}
		if w.Accumulated != nil {
			f.Accumulated = *w.Accumulated
			f.HasAccumulated = true
		}
		return f, true

	case frameTypeMessageID:
		if w.MessageID == nil {
			log.Printf("WARNING: dropping message-id record without message_id")
			return nil, false
		}
		return MessageIDFrame{
			MessageID: *w.MessageID,
			Metadata:  w.Metadata,
			Done:      w.Done,
		}, true

	case frameTypeDone:
		return DoneFrame{}, true

	default:
		log.Printf("WARNING: dropping stream record with unknown type %q", w.Type)
		return nil, false
	}
}
