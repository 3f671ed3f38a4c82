// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLORS
// =============================================================================

// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.

// Indigo - primary accent, assistant output, brand
var Indigo = lipgloss.AdaptiveColor{Light: "#4F46E5", Dark: "#818CF8"}

// Cyan - user input, commands
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - success states, online indicator
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - errors, failed exchanges
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - warnings, offline indicator, queued work
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// TextMuted - hints, timestamps, metadata
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// =============================================================================
// STYLES
// =============================================================================

var (
	brandStyle = lipgloss.NewStyle().Foreground(Indigo).Bold(true)

	promptStyle    = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(Cyan)
	assistantStyle = lipgloss.NewStyle().Foreground(Indigo)

	noticeStyle = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(Rose)

	onlineStyle  = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(Amber).Bold(true)

	titleStyle  = lipgloss.NewStyle().Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(Emerald)
	mutedStyle  = lipgloss.NewStyle().Foreground(TextMuted)
)

// colorProfile is detected once at startup; Ascii disables styling entirely.
var colorProfile = termenv.ColorProfile()

func init() {
	if colorProfile == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// glamourStyleName picks the markdown rendering style for the terminal
// background.
func glamourStyleName() string {
	if termenv.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
