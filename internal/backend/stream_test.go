// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// =============================================================================
// STREAM STATE TESTS
// =============================================================================

func TestStreamState_IsTerminal(t *testing.T) {
	tests := []struct {
		state StreamState
		want  bool
	}{
		{StateIdle, false},
		{StateSending, false},
		{StateStreaming, false},
		{StateCompleted, true},
		{StateCancelled, true},
		{StateFailed, true},
	}

	for _, tc := range tests {
		t.Run(string(tc.state), func(t *testing.T) {
			if got := tc.state.IsTerminal(); got != tc.want {
				t.Errorf("%s.IsTerminal() = %v, want %v", tc.state, got, tc.want)
			}
		})
	}
}

func TestStreamState_Transitions(t *testing.T) {
	tests := []struct {
		name string
		from StreamState
		to   StreamState
		want bool
	}{
		{"idle to sending", StateIdle, StateSending, true},
		{"sending to streaming", StateSending, StateStreaming, true},
		{"streaming to completed", StateStreaming, StateCompleted, true},
		{"sending to cancelled", StateSending, StateCancelled, true},
		{"streaming to failed", StateStreaming, StateFailed, true},
		{"idle to streaming skips sending", StateIdle, StateStreaming, false},
		{"completed is absorbing", StateCompleted, StateStreaming, false},
		{"cancelled is absorbing", StateCancelled, StateFailed, false},
		{"failed is absorbing", StateFailed, StateCompleted, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isValidTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("isValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

// =============================================================================
// STREAM SESSION TESTS
// =============================================================================

// streamServer builds a test server whose handler writes event records with
// explicit flushes, so partial reads on the client side are realistic.
func streamServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, flush func())) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("Response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		handler(w, r, flusher.Flush)
	}))
}

func collectFrames(s *StreamSession) []Frame {
	var frames []Frame
	for f := range s.Frames() {
		frames = append(frames, f)
	}
	return frames
}

func TestOpenStream_DeltasThenDone(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		if r.URL.Path != "/sessions/1/stream" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Hi\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\" there\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{
		Content:    "Hello",
		ModuleType: "general",
		Metadata:   map[string]string{},
	})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	frames := collectFrames(sess)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d: %#v", len(frames), frames)
	}

	first, ok := frames[0].(ChunkFrame)
	if !ok || first.Content != "Hi" {
		t.Errorf("Frame 0 = %#v, want chunk 'Hi'", frames[0])
	}
	second, ok := frames[1].(ChunkFrame)
	if !ok || second.Content != " there" {
		t.Errorf("Frame 1 = %#v, want chunk ' there'", frames[1])
	}
	if _, ok := frames[2].(DoneFrame); !ok {
		t.Errorf("Frame 2 = %#v, want done", frames[2])
	}

	if sess.State() != StateCompleted {
		t.Errorf("State = %s, want %s", sess.State(), StateCompleted)
	}
	if sess.Err() != nil {
		t.Errorf("Err() = %v, want nil", sess.Err())
	}
}

func TestOpenStream_MessageIDDoneTerminates(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Answer\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"message-id\",\"message_id\":314,\"metadata\":{\"model\":\"default\"},\"done\":true}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	frames := collectFrames(sess)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}

	id, ok := frames[1].(MessageIDFrame)
	if !ok {
		t.Fatalf("Frame 1 = %#v, want message id", frames[1])
	}
	if id.MessageID != 314 {
		t.Errorf("MessageID = %d, want 314", id.MessageID)
	}
	if !id.Done {
		t.Error("Done flag should carry through")
	}
	if sess.State() != StateCompleted {
		t.Errorf("State = %s, want %s", sess.State(), StateCompleted)
	}
}

func TestOpenStream_AccumulatedSnapshot(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Hel\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"accumulated\":\"Hello world\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	frames := collectFrames(sess)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}

	snap, ok := frames[1].(ChunkFrame)
	if !ok {
		t.Fatalf("Frame 1 = %#v, want chunk", frames[1])
	}
	if !snap.HasAccumulated || snap.Accumulated != "Hello world" {
		t.Errorf("Snapshot = %#v, want accumulated 'Hello world'", snap)
	}
}

func TestOpenStream_Cancel(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Par\"}\n\n")
		flush()
		// Hold the stream open until the client walks away.
		<-r.Context().Done()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	first := <-sess.Frames()
	chunk, ok := first.(ChunkFrame)
	if !ok || chunk.Content != "Par" {
		t.Fatalf("First frame = %#v, want chunk 'Par'", first)
	}

	sess.Cancel()

	if sess.State() != StateCancelled {
		t.Errorf("State after Cancel = %s, want %s", sess.State(), StateCancelled)
	}

	// The frame channel must close promptly so consumers do not hang.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-sess.Frames():
			if !open {
				if sess.State() != StateCancelled {
					t.Errorf("Final state = %s, want %s", sess.State(), StateCancelled)
				}
				if sess.Err() != nil {
					t.Errorf("Cancellation is not a failure, Err() = %v", sess.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("Frame channel did not close after Cancel")
		}
	}
}

func TestOpenStream_CancelIsIdempotent(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"x\"}\n\n")
		flush()
		<-r.Context().Done()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	sess.Cancel()
	sess.Cancel()

	collectFrames(sess)
	if sess.State() != StateCancelled {
		t.Errorf("State = %s, want %s", sess.State(), StateCancelled)
	}
}

func TestOpenStream_TruncatedStreamFails(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"Half an ans\"}\n\n")
		flush()
		// Handler returns without a terminal record; the body sees EOF.
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	frames := collectFrames(sess)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame before truncation, got %d", len(frames))
	}
	if sess.State() != StateFailed {
		t.Errorf("State = %s, want %s", sess.State(), StateFailed)
	}
	if sess.Err() == nil {
		t.Error("Truncated stream must surface an error")
	}
}

func TestOpenStream_Non200ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"no such session"}}`))
	}))
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 99, Payload{Metadata: map[string]string{}})
	if err == nil {
		t.Fatal("Expected an error for non-200 stream response")
	}
	if sess != nil {
		t.Error("No session should be handed out on failure")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = false", err)
	}
}

func TestOpenStream_SkipsNoiseRecords(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"chunk\",\"content\":\"clean\"}\n\n")
		flush()
		fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
		flush()
	})
	defer server.Close()

	client := NewClient("test-token").WithBaseURL(server.URL)

	sess, err := client.OpenStream(context.Background(), 1, Payload{Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	frames := collectFrames(sess)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames after skipping noise, got %d", len(frames))
	}
	if chunk, ok := frames[0].(ChunkFrame); !ok || chunk.Content != "clean" {
		t.Errorf("Frame 0 = %#v, want chunk 'clean'", frames[0])
	}
	if sess.State() != StateCompleted {
		t.Errorf("State = %s, want %s", sess.State(), StateCompleted)
	}
}
