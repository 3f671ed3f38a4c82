// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/inkwell"
)

// =============================================================================
// FIRST RUN SETUP
// =============================================================================

// tip is one line of the post-setup orientation block.
type tip struct {
	icon string
	text string
}

var setupTips = []tip{
	{"[Chat]", "Just type. The first message starts a session and names it."},
	{"[Mode]", "/module switches between QA, reformulation, planning and more."},
	{"[Rate]", "/rate <id> up|down rates a reply; ratings queue while offline."},
	{"[Sync]", "/offline and /online flip connectivity; queued work syncs itself."},
	{"[Help]", "/help inside the conversation shows everything else."},
}

// runSetup walks through first-run configuration and writes the config file.
func runSetup() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("setup is interactive; run it from a terminal")
	}

	fmt.Printf("%s %s\n\n", brandStyle.Render("inkwell setup"), mutedStyle.Render(Version))

	cfg := inkwell.Default()
	reader := bufio.NewReader(os.Stdin)

	// Backend endpoint.
	fmt.Printf("Backend URL [%s]: ", cfg.Backend.BaseURL)
	if url := readLine(reader); url != "" {
		cfg.Backend.BaseURL = url
	}

	// Access token, never echoed.
	fmt.Print("Access token (hidden, empty to skip): ")
	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	cfg.Backend.Token = strings.TrimSpace(string(tokenBytes))

	if cfg.Backend.Token != "" {
		fmt.Print("Encrypt the token at rest? [Y/n]: ")
		answer := readLine(reader)
		cfg.Storage.EncryptToken = answer == "" || strings.EqualFold(answer, "y")
		if cfg.Storage.EncryptToken && os.Getenv("INKWELL_MASTER_PASSWORD") == "" {
			fmt.Println(noticeStyle.Render(
				"A key file protects the token. Set INKWELL_MASTER_PASSWORD to derive the key\n" +
					"from a passphrase instead of keeping it on disk."))
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration rejected: %w", err)
	}

	if err := inkwell.Save(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	path, _ := inkwell.ConfigPathTOML()
	fmt.Printf("\n%s %s\n", onlineStyle.Render("Saved"), mutedStyle.Render(path))

	dataDir, err := cfg.ResolveDataDir()
	if err == nil {
		if mkErr := os.MkdirAll(dataDir, 0700); mkErr == nil {
			fmt.Printf("%s %s\n", onlineStyle.Render("Data dir"), mutedStyle.Render(dataDir))
		}
	}

	fmt.Println()
	for _, t := range setupTips {
		fmt.Printf("  %s %s\n", titleStyle.Render(t.icon), t.text)
	}
	fmt.Printf("\nRun %s to start writing.\n", brandStyle.Render("inkwell"))
	return nil
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
