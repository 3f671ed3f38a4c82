// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts one session transcript to a target format.
type Exporter interface {
	// Export renders the transcript and returns the file content.
	Export(sess *chat.Session, msgs []*chat.Message) ([]byte, error)

	// FileExtension returns the extension for the format (e.g. ".md").
	FileExtension() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory files are written to.
	// Default: current working directory.
	OutputDir string

	// IncludeMetadata includes the session header (title, dates, counts).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
	}
}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (markdown, json)", format)
	}
}

// =============================================================================
// FILE WRITING
// =============================================================================

// WriteTranscript exports a transcript to a file in opts.OutputDir and returns
// the written path. The filename derives from the session title and date.
func WriteTranscript(e Exporter, sess *chat.Session, msgs []*chat.Message, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := e.Export(sess, msgs)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%s%s",
		SanitizeFilename(sess.Title),
		time.Now().Format("2006-01-02-150405"),
		e.FileExtension())
	path := filepath.Join(opts.OutputDir, name)

	if err := util.AtomicWriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// SanitizeFilename reduces a session title to a safe filename stem.
// SECURITY: path separators and parent references must never survive, so a
// hostile session title cannot place the export outside OutputDir.
func SanitizeFilename(title string) string {
	if title == "" {
		return "session"
	}

	var sb strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteRune('-')
		}
	}

	stem := strings.Trim(sb.String(), "-")
	for strings.Contains(stem, "--") {
		stem = strings.ReplaceAll(stem, "--", "-")
	}
	if stem == "" {
		return "session"
	}
	if len(stem) > 48 {
		stem = stem[:48]
	}
	return strings.ToLower(stem)
}
