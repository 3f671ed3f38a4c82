// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"

	"github.com/jeranaias/inkwell"
	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/export"
)

// =============================================================================
// REPL
// =============================================================================

// slashCommands feeds tab completion.
var slashCommands = []string{
	"/help", "/sessions", "/select", "/new", "/delete",
	"/module", "/style", "/model", "/plan", "/search",
	"/rate", "/stats", "/queue", "/doc", "/export",
	"/offline", "/online", "/quit",
}

// repl is the interactive conversation loop. All controller calls run on the
// loop goroutine; the event handler only prints.
type repl struct {
	ctrl     *inkwell.Controller
	cfg      *inkwell.Config
	line     *liner.State
	markdown *glamour.TermRenderer
	printer  streamPrinter

	// Per-conversation request overrides, applied to every send.
	webSearch bool
	style     string
	model     string
	planType  string
	planShape string

	historyPath string
}

func newREPL(ctrl *inkwell.Controller, cfg *inkwell.Config) *repl {
	return &repl{
		ctrl:     ctrl,
		cfg:      cfg,
		markdown: newMarkdownRenderer(),
	}
}

func (r *repl) run() error {
	r.line = liner.NewLiner()
	defer r.line.Close()
	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(completeCommand)
	r.loadHistory()
	defer r.saveHistory()

	// Ctrl+C during a streaming exchange cancels it. During the prompt the
	// terminal is raw, so no signal fires and liner handles ^C itself.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			r.ctrl.CancelActive()
		}
	}()

	r.ctrl.OnEvent(r.handleEvent)
	r.greet()

	for {
		input, err := r.line.Prompt("you › ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Println(noticeStyle.Render("(^C discards input; /quit leaves)"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Println()
			return nil
		case err != nil:
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.dispatch(input); quit {
				return nil
			}
			continue
		}
		r.send(input)
	}
}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd, line) {
			out = append(out, cmd)
		}
	}
	return out
}

// greet prints the startup banner and resumes the most recent session.
func (r *repl) greet() {
	fmt.Printf("%s %s\n", brandStyle.Render("inkwell"), mutedStyle.Render(Version))

	badge := onlineStyle.Render("online")
	if !r.ctrl.Online() {
		badge = offlineStyle.Render("offline")
	}
	fmt.Printf("%s %s, module %s\n",
		mutedStyle.Render("Starting"), badge, titleStyle.Render(r.ctrl.Module().DisplayName()))

	if r.ctrl.Online() {
		if err := r.ctrl.RefreshSessions(context.Background()); err != nil {
			fmt.Println(errorStyle.Render("Session refresh failed: " + err.Error()))
		}
	}

	sessions := r.ctrl.Sessions()
	if len(sessions) == 0 {
		fmt.Println(noticeStyle.Render("Type a message to start a conversation, or /help for commands."))
		fmt.Println()
		return
	}

	recent := sessions[0]
	if err := r.ctrl.SelectSession(context.Background(), recent.ID); err != nil {
		fmt.Println(errorStyle.Render("Could not resume the last session: " + err.Error()))
	} else {
		title := recent.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Println(noticeStyle.Render(fmt.Sprintf("Resumed %q. /sessions lists the rest.", title)))
	}
	fmt.Println()
}

// =============================================================================
// SENDING
// =============================================================================

func (r *repl) send(text string) {
	// First message without a session starts one implicitly.
	if r.ctrl.ActiveSession() == nil {
		if _, err := r.ctrl.NewSession(context.Background(), ""); err != nil {
			fmt.Println(errorStyle.Render("Could not start a session: " + err.Error()))
			return
		}
	}

	opts := r.ctrl.DefaultSendOptions()
	if r.webSearch {
		opts.UseWebSearch = true
	}
	if r.style != "" {
		opts.Style = r.style
	}
	if r.model != "" {
		opts.Model = r.model
	}
	if r.planType != "" {
		opts.PlanType = r.planType
	}
	if r.planShape != "" {
		opts.Structure = r.planShape
	}

	if err := r.ctrl.Send(context.Background(), text, opts); err != nil {
		fmt.Println(errorStyle.Render("Send failed: " + err.Error()))
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// handleEvent prints conversation progress. Session selection is not printed
// here; the commands that cause it report their own results.
func (r *repl) handleEvent(ev inkwell.Event) {
	switch ev.Kind {
	case inkwell.EventMessageAppended:
		if ev.Message != nil && ev.Message.Role == chat.RoleAssistant {
			r.printer.begin()
		}
	case inkwell.EventMessageUpdated:
		if ev.Message != nil && ev.Message.IsStreaming {
			r.printer.update(ev.Message.Content)
		}
	case inkwell.EventMessageCompleted:
		if ev.Message != nil {
			r.printer.update(ev.Message.Content)
		}
		r.printer.finish()
	case inkwell.EventConnectivity:
		if r.printer.isActive() {
			return
		}
		if ev.Online {
			fmt.Println(onlineStyle.Render("Back online."))
		} else {
			fmt.Println(offlineStyle.Render("Offline. Ratings queue until reconnect."))
		}
	case inkwell.EventQueueDrained:
		fmt.Println(noticeStyle.Render(fmt.Sprintf("Synced %d queued operation(s).", ev.Drained)))
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// dispatch runs one slash command. Returns true when the REPL should exit.
func (r *repl) dispatch(input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.printHelp()
	case "/sessions":
		r.cmdSessions()
	case "/select":
		r.cmdSelect(args)
	case "/new":
		r.cmdNew(args)
	case "/delete":
		r.cmdDelete(args)
	case "/module":
		r.cmdModule(args)
	case "/style":
		r.style = strings.Join(args, " ")
		r.reportOverride("Reformulation style", r.style)
	case "/model":
		r.model = strings.Join(args, " ")
		r.reportOverride("Model override", r.model)
	case "/plan":
		r.cmdPlan(args)
	case "/search":
		r.cmdSearch(args)
	case "/rate":
		r.cmdRate(args)
	case "/stats":
		stats := r.ctrl.LastStats()
		fmt.Println(mutedStyle.Render("Last exchange: " + stats.Format()))
	case "/queue":
		r.cmdQueue()
	case "/doc":
		r.cmdDoc(args)
	case "/export":
		r.cmdExport(args)
	case "/offline":
		r.ctrl.SetOnline(false)
	case "/online":
		r.ctrl.SetOnline(true)
	default:
		fmt.Println(errorStyle.Render("Unknown command " + cmd + ". /help lists commands."))
	}
	return false
}

func (r *repl) printHelp() {
	fmt.Print(`Commands:
  /sessions            list sessions (refreshes from the backend when online)
  /select <id>         switch to a session and show its history
  /new [title]         start a fresh session
  /delete [id]         delete a session (the active one by default)
  /module [name]       show or switch the assistant module
  /style [name]        set the reformulation style for later sends
  /model [name]        pin a model for later sends
  /plan [type shape]   set essay plan parameters for later sends
  /search on|off       toggle web-grounded responses
  /rate <id> up|down   rate an assistant reply
  /stats               timing of the last exchange
  /queue               pending offline operations
  /doc <id>            wait for an uploaded document to finish processing
  /export [md|json]    write the conversation to a file (markdown by default)
  /offline, /online    flip connectivity
  /quit                leave

Anything else is sent to the assistant. Ctrl+C stops a streaming reply.
`)
}

func (r *repl) cmdSessions() {
	if r.ctrl.Online() {
		if err := r.ctrl.RefreshSessions(context.Background()); err != nil {
			fmt.Println(errorStyle.Render("Refresh failed: " + err.Error()))
		}
	}
	activeID := int64(0)
	if s := r.ctrl.ActiveSession(); s != nil {
		activeID = s.ID
	}
	printSessions(r.ctrl.Sessions(), activeID)
}

func (r *repl) cmdSelect(args []string) {
	if len(args) != 1 {
		fmt.Println(errorStyle.Render("Usage: /select <id>"))
		return
	}
	id, err := parseSessionArg(args[0], r.ctrl.Sessions())
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	if err := r.ctrl.SelectSession(context.Background(), id); err != nil {
		fmt.Println(errorStyle.Render("Select failed: " + err.Error()))
		return
	}
	for _, m := range r.ctrl.Messages() {
		r.printMessage(m)
	}
}

func (r *repl) cmdNew(args []string) {
	sess, err := r.ctrl.NewSession(context.Background(), strings.Join(args, " "))
	if err != nil {
		fmt.Println(errorStyle.Render("Could not create a session: " + err.Error()))
		return
	}
	if sess.IsLocal() {
		fmt.Println(noticeStyle.Render("Started a local session; it syncs on the first online send."))
		return
	}
	fmt.Println(noticeStyle.Render(fmt.Sprintf("Started session %d.", sess.ID)))
}

func (r *repl) cmdDelete(args []string) {
	var id int64
	switch {
	case len(args) == 1:
		parsed, err := parseSessionArg(args[0], r.ctrl.Sessions())
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			return
		}
		id = parsed
	case r.ctrl.ActiveSession() != nil:
		id = r.ctrl.ActiveSession().ID
	default:
		fmt.Println(errorStyle.Render("No active session. Usage: /delete <id>"))
		return
	}

	answer, err := r.line.Prompt(fmt.Sprintf("Delete session %d? [y/N] ", id))
	if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
		fmt.Println(noticeStyle.Render("Kept it."))
		return
	}

	err = r.ctrl.DeleteSession(context.Background(), id)
	switch {
	case errors.Is(err, inkwell.ErrNoSessions):
		fmt.Println(noticeStyle.Render("Deleted. No sessions left; type a message to start fresh."))
	case err != nil:
		fmt.Println(errorStyle.Render("Delete failed: " + err.Error()))
	default:
		next := r.ctrl.ActiveSession()
		fmt.Println(noticeStyle.Render(fmt.Sprintf("Deleted. Now on session %s.", sessionIDLabel(next))))
	}
}

func (r *repl) cmdModule(args []string) {
	if len(args) == 0 {
		current := r.ctrl.Module()
		for _, m := range chat.AllModules() {
			marker := "  "
			if m == current {
				marker = "* "
			}
			fmt.Printf("%s%s %s\n", marker, runewidth.FillRight(string(m), 14), mutedStyle.Render(m.DisplayName()))
		}
		return
	}
	m, err := chat.ParseModuleType(args[0])
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	if err := r.ctrl.SetModule(m); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	fmt.Println(noticeStyle.Render("Module set to " + m.DisplayName() + "."))
}

func (r *repl) cmdPlan(args []string) {
	switch len(args) {
	case 0:
		r.planType, r.planShape = "", ""
		fmt.Println(noticeStyle.Render("Plan parameters cleared."))
	case 2:
		r.planType, r.planShape = args[0], args[1]
		fmt.Println(noticeStyle.Render(fmt.Sprintf("Plan: %s essay, %s structure.", r.planType, r.planShape)))
	default:
		fmt.Println(errorStyle.Render("Usage: /plan <type> <structure>  (or bare /plan to clear)"))
	}
}

func (r *repl) cmdSearch(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Println(errorStyle.Render("Usage: /search on|off"))
		return
	}
	r.webSearch = args[0] == "on"
	if r.webSearch {
		fmt.Println(noticeStyle.Render("Web-grounded responses on."))
	} else {
		fmt.Println(noticeStyle.Render("Web-grounded responses off."))
	}
}

func (r *repl) cmdRate(args []string) {
	if len(args) != 2 {
		fmt.Println(errorStyle.Render("Usage: /rate <message-id> up|down"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println(errorStyle.Render("Message ids are numeric; they show next to replies."))
		return
	}
	var rating chat.Rating
	switch args[1] {
	case "up":
		rating = chat.RatingUp
	case "down":
		rating = chat.RatingDown
	default:
		fmt.Println(errorStyle.Render("Usage: /rate <message-id> up|down"))
		return
	}
	if err := r.ctrl.Rate(context.Background(), id, rating); err != nil {
		fmt.Println(errorStyle.Render("Rating failed: " + err.Error()))
		return
	}
	fmt.Println(noticeStyle.Render("Thanks, noted."))
}

func (r *repl) cmdQueue() {
	ops := r.ctrl.QueuedOps()
	if len(ops) == 0 {
		fmt.Println(noticeStyle.Render("Nothing queued."))
		return
	}
	for _, op := range ops {
		line := fmt.Sprintf("  %s for #%d, queued %s", op.Kind, op.TargetID, humanize.Time(op.EnqueuedAt))
		if op.Attempts > 0 {
			line += fmt.Sprintf(" (%d failed attempts)", op.Attempts)
		}
		fmt.Println(line)
	}
}

func (r *repl) cmdDoc(args []string) {
	if len(args) != 1 {
		fmt.Println(errorStyle.Render("Usage: /doc <document-id>"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println(errorStyle.Render("Document ids are numeric."))
		return
	}
	fmt.Println(noticeStyle.Render("Waiting for processing (Ctrl+C returns to the prompt)..."))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ready, err := r.ctrl.AwaitDocument(ctx, id)
	switch {
	case err != nil:
		fmt.Println(errorStyle.Render("Wait aborted: " + err.Error()))
	case ready:
		fmt.Println(onlineStyle.Render("Document is ready to reference."))
	default:
		fmt.Println(noticeStyle.Render("Still processing; /doc again later to re-check."))
	}
}

func (r *repl) cmdExport(args []string) {
	format := "markdown"
	if len(args) == 1 {
		format = args[0]
	} else if len(args) > 1 {
		fmt.Println(errorStyle.Render("Usage: /export [md|json]"))
		return
	}

	sess := r.ctrl.ActiveSession()
	if sess == nil {
		fmt.Println(errorStyle.Render("Nothing to export; no active session."))
		return
	}

	exporter, err := export.ForFormat(format, nil)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	path, err := export.WriteTranscript(exporter, sess, r.ctrl.Messages(), nil)
	if err != nil {
		fmt.Println(errorStyle.Render("Export failed: " + err.Error()))
		return
	}
	fmt.Println(noticeStyle.Render("Wrote " + path))
}

func (r *repl) reportOverride(what, value string) {
	if value == "" {
		fmt.Println(noticeStyle.Render(what + " cleared."))
		return
	}
	fmt.Println(noticeStyle.Render(what + " set to " + value + "."))
}

// parseSessionArg resolves a session id argument, accepting "local" for the
// single local-only session when one exists.
func parseSessionArg(arg string, sessions []*chat.Session) (int64, error) {
	if arg == "local" {
		for _, s := range sessions {
			if s.IsLocal() {
				return s.ID, nil
			}
		}
		return 0, errors.New("no local session exists")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.New("session ids are numeric; /sessions lists them")
	}
	return id, nil
}

// =============================================================================
// HISTORY
// =============================================================================

func (r *repl) loadHistory() {
	path := r.resolveHistoryPath()
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.ReadHistory(f)
}

func (r *repl) saveHistory() {
	path := r.resolveHistoryPath()
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}

func (r *repl) resolveHistoryPath() string {
	if r.historyPath != "" {
		return r.historyPath
	}
	dir, err := r.cfg.ResolveDataDir()
	if err != nil {
		return ""
	}
	r.historyPath = filepath.Join(dir, "history")
	return r.historyPath
}
