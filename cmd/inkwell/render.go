// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

const defaultWidth = 80

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return defaultWidth
}

// newMarkdownRenderer builds the glamour renderer matched to the terminal.
// A nil return means markdown rendering is unavailable; callers print plain
// text instead.
func newMarkdownRenderer() *glamour.TermRenderer {
	style := glamourStyleName()
	if colorProfile == termenv.Ascii {
		style = "notty"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(terminalWidth()-2),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown renders assistant content for display, degrading to the raw
// text when rendering is unavailable or fails.
func (r *repl) renderMarkdown(content string) string {
	if r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// =============================================================================
// MESSAGE DISPLAY
// =============================================================================

// printMessage renders one stored message for history display.
func (r *repl) printMessage(m *chat.Message) {
	switch m.Role {
	case chat.RoleUser:
		fmt.Printf("%s %s\n", promptStyle.Render("you ›"), userStyle.Render(m.Content))
	case chat.RoleAssistant:
		label := assistantLabel(m)
		fmt.Printf("%s\n%s", label, r.renderMarkdown(m.Content))
	default:
		fmt.Println(mutedStyle.Render(m.Content))
	}
	if m.Rating != chat.RatingNone {
		fmt.Println(mutedStyle.Render("  rated " + ratingWord(m.Rating)))
	}
}

func assistantLabel(m *chat.Message) string {
	label := brandStyle.Render("inkwell ›")
	switch {
	case m.IsError:
		label += " " + errorStyle.Render("[failed]")
	case m.IsCancelled:
		label += " " + mutedStyle.Render("[stopped]")
	}
	if m.ID != 0 {
		label += " " + mutedStyle.Render(fmt.Sprintf("#%d", m.ID))
	}
	return label
}

func ratingWord(r chat.Rating) string {
	if r == chat.RatingUp {
		return "up"
	}
	return "down"
}

// =============================================================================
// SESSION TABLE
// =============================================================================

const titleColumnWidth = 38

// printSessions renders the session list as an aligned table. Column widths
// are terminal-cell widths, not byte or rune counts, so wide characters line
// up.
func printSessions(sessions []*chat.Session, activeID int64) {
	if len(sessions) == 0 {
		fmt.Println(noticeStyle.Render("No sessions yet. Type a message or /new to start one."))
		return
	}

	// Pad plain text first; styling is applied to whole lines so escape
	// sequences never skew the width math.
	header := fmt.Sprintf("  %s  %s  %s  %s",
		runewidth.FillRight("ID", 12),
		runewidth.FillRight("TITLE", titleColumnWidth),
		runewidth.FillRight("MSGS", 5),
		"UPDATED",
	)
	fmt.Println(titleStyle.Render(header))

	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		title = runewidth.Truncate(title, titleColumnWidth, "...")
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		row := fmt.Sprintf("%s %s  %s  %s  %s",
			marker,
			runewidth.FillRight(sessionIDLabel(s), 12),
			runewidth.FillRight(title, titleColumnWidth),
			runewidth.FillRight(fmt.Sprintf("%d", s.MessageCount), 5),
			humanize.Time(s.UpdatedAt),
		)
		if s.ID == activeID {
			fmt.Println(activeStyle.Render(row))
		} else {
			fmt.Println(row)
		}
	}
}

func sessionIDLabel(s *chat.Session) string {
	if s.IsLocal() {
		return "local"
	}
	return fmt.Sprintf("%d", s.ID)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes streaming deltas as content snapshots arrive. The
// terminal cannot un-print, so a snapshot that rewrites already-printed text
// restarts the line with the new content.
type streamPrinter struct {
	mu      sync.Mutex
	active  bool
	printed string
}

func (p *streamPrinter) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.printed = ""
	fmt.Printf("%s ", brandStyle.Render("inkwell ›"))
}

// update prints the unseen suffix of the content snapshot.
func (p *streamPrinter) update(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	if strings.HasPrefix(content, p.printed) {
		fmt.Print(content[len(p.printed):])
	} else {
		fmt.Printf("\n%s", content)
	}
	p.printed = content
}

func (p *streamPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.printed = ""
	fmt.Print("\n\n")
}

func (p *streamPrinter) isActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
