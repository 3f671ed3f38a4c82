// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders transcripts as Markdown with YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// Export renders the transcript.
func (e *MarkdownExporter) Export(sess *chat.Session, msgs []*chat.Message) ([]byte, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("session has no messages")
	}

	title := sess.Title
	if title == "" {
		title = "Untitled session"
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(title)))
		sb.WriteString(fmt.Sprintf("created: %s\n", sess.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", sess.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(msgs)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: inkwell\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeHeading(title)))

	for i, msg := range msgs {
		sb.WriteString(fmt.Sprintf("### %s", roleLabel(msg)))
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf(" <sub>%s</sub>", msg.Timestamp.Format("2006-01-02 15:04")))
		}
		sb.WriteString("\n\n")

		sb.WriteString(strings.TrimRight(msg.Content, "\n"))
		sb.WriteString("\n")

		if msg.Rating != chat.RatingNone {
			sb.WriteString(fmt.Sprintf("\n> Rated %s.\n", ratingLabel(msg.Rating)))
		}

		if i < len(msgs)-1 {
			sb.WriteString("\n")
		}
	}

	return []byte(sb.String()), nil
}

func roleLabel(msg *chat.Message) string {
	switch msg.Role {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		label := "Inkwell"
		if msg.Module != "" && msg.Module != chat.ModuleGeneral {
			label += " (" + msg.Module.DisplayName() + ")"
		}
		if msg.IsError {
			label += " [failed]"
		}
		return label
	default:
		r := string(msg.Role)
		if r == "" {
			return "Message"
		}
		return strings.ToUpper(r[:1]) + r[1:]
	}
}

func ratingLabel(r chat.Rating) string {
	if r == chat.RatingUp {
		return "helpful"
	}
	return "not helpful"
}

// escapeYAML quotes a frontmatter value. Newlines are stripped so a hostile
// title cannot inject additional frontmatter keys.
func escapeYAML(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// escapeHeading keeps a title on its own heading line.
func escapeHeading(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
