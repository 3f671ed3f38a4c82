// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// =============================================================================
// STREAM STATE MACHINE
// =============================================================================

// StreamState is the lifecycle state of one streaming exchange.
type StreamState string

const (
	// StateIdle means the exchange has been created but not dispatched.
	StateIdle StreamState = "idle"

	// StateSending means the request is dispatched; no bytes consumed yet.
	StateSending StreamState = "sending"

	// StateStreaming means at least one frame has been decoded.
	StateStreaming StreamState = "streaming"

	// StateCompleted means a terminal frame was observed. Terminal.
	StateCompleted StreamState = "completed"

	// StateCancelled means the caller cancelled before completion. Terminal.
	StateCancelled StreamState = "cancelled"

	// StateFailed means the transport broke before a terminal frame. Terminal.
	StateFailed StreamState = "failed"
)

// IsTerminal returns true if no further transitions are possible.
func (s StreamState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// isValidTransition returns true if the state change is allowed.
func isValidTransition(from, to StreamState) bool {
	switch from {
	case StateIdle:
		return to == StateSending || to == StateCancelled || to == StateFailed
	case StateSending:
		return to == StateStreaming || to == StateCancelled || to == StateFailed
	case StateStreaming:
		return to == StateCompleted || to == StateCancelled || to == StateFailed
	default:
		// Terminal states absorb everything.
		return false
	}
}

// =============================================================================
// STREAM SESSION
// =============================================================================

// readBufferSize is the transport read granularity.
const readBufferSize = 4 * 1024

// frameBufferSize bounds the frame channel so a slow consumer applies
// backpressure instead of growing memory.
const frameBufferSize = 64

// StreamSession manages one streaming request/response exchange. Frames are
// consumed from Frames(); the channel closes when the exchange reaches a
// terminal state. Cancel may be called from any goroutine and is idempotent.
type StreamSession struct {
	mu    sync.Mutex
	state StreamState
	err   error

	cancelCtx context.CancelFunc
	body      io.ReadCloser
	frames    chan Frame
}

func newStreamSession(cancel context.CancelFunc) *StreamSession {
	return &StreamSession{
		state:     StateIdle,
		cancelCtx: cancel,
		frames:    make(chan Frame, frameBufferSize),
	}
}

// Frames returns the channel of decoded frames, in arrival order. The channel
// is closed once the session reaches a terminal state.
func (s *StreamSession) Frames() <-chan Frame {
	return s.frames
}

// State returns the current lifecycle state.
func (s *StreamSession) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the transport error after the session reached StateFailed, nil
// otherwise. Cancellation is not an error.
func (s *StreamSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel requests cancellation of the exchange. Idempotent; a no-op once the
// session is terminal. The underlying read resource is released through
// context cancellation, which closes the transport connection.
func (s *StreamSession) Cancel() {
	s.markCancelled()
	s.cancelCtx()
}

// transition applies a state change if the state machine allows it.
func (s *StreamSession) transition(to StreamState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isValidTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

// markCancelled moves any non-terminal state to cancelled.
func (s *StreamSession) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = StateCancelled
}

// fail moves any non-terminal state to failed and records the cause.
func (s *StreamSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = StateFailed
	s.err = err
}

// =============================================================================
// READ LOOP
// =============================================================================

// readLoop consumes the response body until a terminal frame, end of stream,
// cancellation, or a transport error. Cancellation is cooperative: the flag
// is checked both before and after each blocking read, and bytes read past a
// cancel are discarded rather than applied.
func (s *StreamSession) readLoop(ctx context.Context) {
	defer close(s.frames)
	defer s.body.Close()

	parser := NewParser()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			s.markCancelled()
			return
		default:
		}

		n, err := s.body.Read(buf)

		if s.State() == StateCancelled {
			return
		}

		if n > 0 {
			for _, f := range parser.Feed(buf[:n]) {
				if !s.deliver(ctx, f) {
					return
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				for _, f := range parser.Flush() {
					if !s.deliver(ctx, f) {
						return
					}
				}
				s.fail(errors.New("stream ended before completion"))
				return
			}
			if ctx.Err() != nil {
				// A cancelled read is terminal but not a failure.
				s.markCancelled()
				return
			}
			s.fail(fmt.Errorf("stream read failed: %w", err))
			return
		}
	}
}

// deliver pushes one frame to the consumer and advances the state machine.
// Returns false when the loop should stop reading.
func (s *StreamSession) deliver(ctx context.Context, f Frame) bool {
	// The first decoded frame moves the exchange to streaming.
	s.transition(StateStreaming)

	select {
	case s.frames <- f:
	case <-ctx.Done():
		s.markCancelled()
		return false
	}

	if IsTerminalFrame(f) {
		s.transition(StateCompleted)
		return false
	}
	return true
}

// =============================================================================
// STREAM OPEN
// =============================================================================

// OpenStream dispatches a streaming exchange for the given session. On a
// non-success response or connection failure no StreamSession is returned;
// the caller decides whether to fall back to the one-shot endpoint.
//
// The returned session owns the response body and must be driven by
// consuming Frames() or calling Cancel.
func (c *Client) OpenStream(ctx context.Context, sessionID int64, payload Payload) (*StreamSession, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/sessions/%d/stream", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	s := newStreamSession(cancel)
	s.transition(StateSending)

	// PERFORMANCE: Streaming client has no timeout; lifetime is context-bound.
	resp, err := c.streamer.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		cancel()
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	s.body = resp.Body
	go s.readLoop(streamCtx)

	return s, nil
}
