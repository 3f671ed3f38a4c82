// inkwell - terminal client for the Inkwell writing assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/jeranaias/inkwell"
	"github.com/jeranaias/inkwell/chat"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Word subcommands run before flag parsing, in the git manner.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "setup":
			if err := runSetup(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			printVersion()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "config file path (default: the standard config location)")
		baseURL    = flag.String("base-url", "", "override the backend base URL")
		module     = flag.String("module", "", "start in the given assistant module")
		offline    = flag.Bool("offline", false, "start disconnected; writes queue until /online")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.Backend.BaseURL = *baseURL
	}
	if *offline {
		cfg.Offline = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: inkwell is interactive; run it from a terminal")
		os.Exit(1)
	}

	ctrl, err := inkwell.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	if *module != "" {
		m, err := chat.ParseModuleType(*module)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := ctrl.SetModule(m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Live config reload keeps long-running sessions on current settings.
	// Controller-level settings only apply on restart; the watcher still
	// surfaces edits so the user knows they landed.
	if path := configFileInUse(*configPath); path != "" {
		watcher, err := inkwell.WatchConfig(path, func(updated *inkwell.Config) {
			fmt.Println(noticeStyle.Render("Configuration file changed; restart to apply transport settings."))
		})
		if err == nil {
			defer watcher.Close()
		}
	}

	r := newREPL(ctrl, cfg)
	if err := r.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*inkwell.Config, error) {
	if path != "" {
		return inkwell.LoadFromPath(path)
	}
	return inkwell.Load()
}

// configFileInUse resolves the path worth watching, empty when no config file
// exists yet.
func configFileInUse(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if path, err := inkwell.ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
	}
	if path, err := inkwell.ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
	}
	return ""
}

func printVersion() {
	fmt.Printf("inkwell %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

func usage() {
	fmt.Fprintf(os.Stderr, `inkwell - terminal client for the Inkwell writing assistant

Usage:
  inkwell [flags]     start an interactive conversation
  inkwell setup       guided first-run configuration
  inkwell version     print version information

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Inside the conversation, type /help for the command list.
`)
}
