// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inkwell is the client-side engine of the Inkwell writing
// assistant: session management, streaming message exchanges, offline
// degradation, and feedback capture, behind one controller type.
//
// The package holds no global conversation state. Hosts build a Controller
// from a Config, drive it with plain method calls, and observe changes
// through a synchronous event callback. Presentation is entirely the host's
// concern; a terminal client lives in cmd/inkwell.
//
// # Key Types
//
//   - Controller: owns the active session and the single in-flight stream
//   - Config: TOML/JSON configuration with env overrides and token sealing
//   - ConfigWatcher: debounced config file reload notifications
//   - Event: change notification delivered in application order
//
// # Usage
//
// Load configuration, build a controller, and run an exchange:
//
//	cfg, err := inkwell.Load()
//	ctrl, err := inkwell.New(cfg)
//	defer ctrl.Close()
//
//	ctrl.OnEvent(func(ev inkwell.Event) { render(ev) })
//	sess, err := ctrl.NewSession(ctx, "")
//	err = ctrl.Send(ctx, "Draft an opening paragraph", ctrl.DefaultSendOptions())
//
// Send blocks until the exchange settles. Cancellation (CancelActive, a
// session switch, Close) keeps the partial reply with a marker appended and
// is never reported as an error; transport failures degrade to the one-shot
// endpoint and, past that, to a synthetic assistant message.
//
// # Offline Behavior
//
// Connectivity is a process-wide flag (SetOnline). Offline, sessions are
// created locally and listed from the cache, and ratings queue in a durable
// store; reconnecting drains the queue in the background. Local-only
// sessions promote to remote ones on the first online send.
package inkwell
