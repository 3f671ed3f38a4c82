// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter renders transcripts as JSON.
// NOTE: JSON exports always carry the complete transcript regardless of
// options, so the file is a faithful machine-readable copy.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string { return ".json" }

// transcript is the export file shape.
type transcript struct {
	Session    transcriptSession   `json:"session"`
	Messages   []transcriptMessage `json:"messages"`
	ExportedAt time.Time           `json:"exported_at"`
	Generator  string              `json:"generator"`
}

type transcriptSession struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type transcriptMessage struct {
	ID        int64          `json:"id"`
	Role      string         `json:"role"`
	Module    string         `json:"module,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Cancelled bool           `json:"cancelled,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
	Rating    int            `json:"rating,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Export renders the transcript.
func (e *JSONExporter) Export(sess *chat.Session, msgs []*chat.Message) ([]byte, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("session has no messages")
	}

	out := transcript{
		Session: transcriptSession{
			ID:           sess.ID,
			Title:        sess.Title,
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
			MessageCount: sess.MessageCount,
		},
		Messages:   make([]transcriptMessage, 0, len(msgs)),
		ExportedAt: time.Now(),
		Generator:  "inkwell",
	}

	for _, m := range msgs {
		out.Messages = append(out.Messages, transcriptMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Module:    string(m.Module),
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Cancelled: m.IsCancelled,
			Failed:    m.IsError,
			Rating:    int(m.Rating),
			Metadata:  m.Metadata,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return append(data, '\n'), nil
}
