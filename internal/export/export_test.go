// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/inkwell/chat"
)

func sampleSession() *chat.Session {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &chat.Session{
		ID:           417,
		Title:        "Essay on tides",
		CreatedAt:    created,
		UpdatedAt:    created.Add(10 * time.Minute),
		MessageCount: 2,
	}
}

func sampleMessages() []*chat.Message {
	ts := time.Date(2025, 3, 14, 9, 31, 0, 0, time.UTC)
	user := &chat.Message{
		ID: 1, Role: chat.RoleUser, Module: chat.ModuleGeneral,
		Content: "Why are there two tides a day?", Timestamp: ts,
	}
	asst := &chat.Message{
		ID: 2, Role: chat.RoleAssistant, Module: chat.ModuleGeneral,
		Content: "The moon pulls the near side **and** the far side bulges too.", Timestamp: ts.Add(time.Second),
		Rating: chat.RatingUp,
	}
	return []*chat.Message{user, asst}
}

// TestMarkdownExport covers the full rendered shape: frontmatter, heading,
// role sections, and the rating annotation.
func TestMarkdownExport(t *testing.T) {
	e := NewMarkdownExporter(nil)
	out, err := e.Export(sampleSession(), sampleMessages())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	result := string(out)
	for _, want := range []string{
		`title: "Essay on tides"`,
		"messages: 2",
		"# Essay on tides",
		"### You",
		"### Inkwell",
		"Why are there two tides a day?",
		"> Rated helpful.",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("Markdown output missing %q", want)
		}
	}
}

// TestYAMLNewlineInjection ensures a title with newlines cannot inject
// frontmatter keys.
func TestYAMLNewlineInjection(t *testing.T) {
	sess := sampleSession()
	sess.Title = "Innocent\ninjected: true"

	e := NewMarkdownExporter(nil)
	out, err := e.Export(sess, sampleMessages())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	result := string(out)
	if strings.Contains(result, "\ninjected: true\n") {
		t.Error("Newline in title leaked into frontmatter")
	}
	if !strings.Contains(result, `title: "Innocent injected: true"`) {
		t.Errorf("Expected collapsed, quoted title, got:\n%s", result[:200])
	}
}

func TestMarkdownModuleAndFailureLabels(t *testing.T) {
	msgs := sampleMessages()
	msgs[1].Module = chat.ModuleReformulate
	msgs[1].IsError = true

	e := NewMarkdownExporter(nil)
	out, err := e.Export(sampleSession(), msgs)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(out), "### Inkwell (Reformulation) [failed]") {
		t.Errorf("Expected module and failure labels, got:\n%s", out)
	}
}

func TestMarkdownTimestamps(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeTimestamps = true

	e := NewMarkdownExporter(opts)
	out, err := e.Export(sampleSession(), sampleMessages())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.Contains(string(out), "<sub>2025-03-14 09:31</sub>") {
		t.Error("Expected per-message timestamps")
	}
}

func TestMarkdownRejectsEmptyTranscript(t *testing.T) {
	e := NewMarkdownExporter(nil)
	if _, err := e.Export(sampleSession(), nil); err == nil {
		t.Error("Expected an error for an empty transcript")
	}
	if _, err := e.Export(nil, sampleMessages()); err == nil {
		t.Error("Expected an error for a nil session")
	}
}

// TestJSONExportRoundTrip verifies the export parses back with the same
// content.
func TestJSONExportRoundTrip(t *testing.T) {
	e := NewJSONExporter(nil)
	out, err := e.Export(sampleSession(), sampleMessages())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var parsed struct {
		Session struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"session"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Rating  int    `json:"rating"`
		} `json:"messages"`
		Generator string `json:"generator"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}

	if parsed.Session.ID != 417 || parsed.Session.Title != "Essay on tides" {
		t.Errorf("Session header mismatch: %+v", parsed.Session)
	}
	if len(parsed.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(parsed.Messages))
	}
	if parsed.Messages[0].Role != "user" || parsed.Messages[1].Rating != 1 {
		t.Errorf("Message content mismatch: %+v", parsed.Messages)
	}
	if parsed.Generator != "inkwell" {
		t.Errorf("Expected generator marker, got %q", parsed.Generator)
	}
}

func TestForFormat(t *testing.T) {
	if _, err := ForFormat("markdown", nil); err != nil {
		t.Errorf("markdown should resolve: %v", err)
	}
	if _, err := ForFormat("MD", nil); err != nil {
		t.Errorf("format names are case-insensitive: %v", err)
	}
	if _, err := ForFormat("json", nil); err != nil {
		t.Errorf("json should resolve: %v", err)
	}
	if _, err := ForFormat("docx", nil); err == nil {
		t.Error("Expected an error for an unknown format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Essay on tides", "essay-on-tides"},
		{"", "session"},
		{"../../etc/passwd", "etcpasswd"},
		{"a/b\\c", "abc"},
		{"Hello, world!", "hello-world"},
		{"   ", "session"},
		{strings.Repeat("x", 100), strings.Repeat("x", 48)},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteTranscript(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = dir

	e := NewMarkdownExporter(opts)
	path, err := WriteTranscript(e, sampleSession(), sampleMessages(), opts)
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}

	if filepath.Dir(path) != dir {
		t.Errorf("Export written outside the output dir: %s", path)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "essay-on-tides-") || !strings.HasSuffix(base, ".md") {
		t.Errorf("Unexpected export filename %q", base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	if !strings.Contains(string(data), "# Essay on tides") {
		t.Error("Export file missing rendered content")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat export: %v", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		t.Errorf("Transcript should not be world-readable, got %o", info.Mode().Perm())
	}
}
