// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline provides the process-wide connectivity signal and the
// durable queue for writes issued while disconnected.
package offline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// =============================================================================
// QUEUE TESTS
// =============================================================================

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := OpenQueue(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueue_Enqueue(t *testing.T) {
	q := openTestQueue(t)

	id, err := q.Enqueue(KindFeedback, 42, `{"rating":-1}`)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Error("Expected a non-empty operation id")
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestQueue_EnqueueReplacesSameTarget(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Enqueue(KindFeedback, 42, `{"rating":1}`)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := q.Enqueue(KindFeedback, 42, `{"rating":-1}`)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if first != second {
		t.Errorf("Replacement changed the id: %s != %s", first, second)
	}

	n, _ := q.Len()
	if n != 1 {
		t.Fatalf("Len = %d, want 1 after replacing the same target", n)
	}

	ops, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if ops[0].Payload != `{"rating":-1}` {
		t.Errorf("Payload = %q, want the newest value", ops[0].Payload)
	}
}

func TestQueue_EnqueueDistinctTargets(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 1, `{"rating":1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(KindFeedback, 2, `{"rating":1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	n, _ := q.Len()
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestQueue_DrainRemovesAcknowledged(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 42, `{"rating":-1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(KindFeedback, 42, `{"rating":-1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	var applied []Operation
	acked, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
		applied = append(applied, op)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if acked != 1 {
		t.Errorf("acked = %d, want 1", acked)
	}
	if len(applied) != 1 {
		t.Fatalf("Duplicate enqueue must drain as one operation, got %d", len(applied))
	}
	if applied[0].TargetID != 42 {
		t.Errorf("TargetID = %d, want 42", applied[0].TargetID)
	}

	n, _ := q.Len()
	if n != 0 {
		t.Errorf("Len = %d after drain, want 0", n)
	}
}

func TestQueue_DrainLeavesFailedInPlace(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 7, `{"rating":1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	acked, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
		return errors.New("backend still unreachable")
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if acked != 0 {
		t.Errorf("acked = %d, want 0", acked)
	}

	ops, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Failed operation must stay queued, Len = %d", len(ops))
	}
	if ops[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", ops[0].Attempts)
	}
	if ops[0].LastError != "backend still unreachable" {
		t.Errorf("LastError = %q", ops[0].LastError)
	}
}

func TestQueue_DrainFIFOOrder(t *testing.T) {
	q := openTestQueue(t)

	for _, target := range []int64{10, 20, 30} {
		if _, err := q.Enqueue(KindFeedback, target, `{}`); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var order []int64
	if _, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
		order = append(order, op.TargetID)
		return nil
	}); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Errorf("Drain order = %v, want [10 20 30]", order)
	}
}

func TestQueue_ReplacementKeepsQueuePosition(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 10, `{}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(KindFeedback, 20, `{}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// Rewriting target 10 must not move it behind target 20.
	if _, err := q.Enqueue(KindFeedback, 10, `{"rating":-1}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ops, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(ops) != 2 || ops[0].TargetID != 10 || ops[1].TargetID != 20 {
		t.Errorf("Pending order = %+v, want target 10 first", ops)
	}
}

func TestQueue_DrainReentrantIsNoOp(t *testing.T) {
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 1, `{}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
			close(entered)
			<-release
			return nil
		})
		done <- err
	}()

	<-entered

	// A drain while one is in flight does nothing.
	acked, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
		t.Error("Re-entrant drain must not apply operations")
		return nil
	})
	if err != nil {
		t.Fatalf("Re-entrant Drain errored: %v", err)
	}
	if acked != 0 {
		t.Errorf("Re-entrant Drain acked %d operations, want 0", acked)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("First Drain failed: %v", err)
	}

	n, _ := q.Len()
	if n != 0 {
		t.Errorf("Len = %d after drain, want 0", n)
	}
}

func TestQueue_DrainStopsWhenConnectivityDrops(t *testing.T) {
	t.Cleanup(func() { SetOnline(true) })
	q := openTestQueue(t)

	if _, err := q.Enqueue(KindFeedback, 1, `{}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(KindFeedback, 2, `{}`); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	applied := 0
	acked, err := q.Drain(context.Background(), func(ctx context.Context, op Operation) error {
		applied++
		SetOnline(false)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if applied != 1 {
		t.Errorf("Expected drain to stop after connectivity dropped, applied %d", applied)
	}
	if acked != 1 {
		t.Errorf("acked = %d, want 1", acked)
	}

	n, _ := q.Len()
	if n != 1 {
		t.Errorf("Len = %d, want 1 left for the next reconnect", n)
	}
}

func TestQueue_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := OpenQueue(path)
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	id, err := q.Enqueue(KindFeedback, 99, `{"rating":1}`)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenQueue(path)
	if err != nil {
		t.Fatalf("Failed to reopen queue: %v", err)
	}
	defer reopened.Close()

	ops, err := reopened.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("Reopened queue lost operations, Len = %d", len(ops))
	}
	if ops[0].ID != id {
		t.Errorf("ID = %q, want %q", ops[0].ID, id)
	}
	if ops[0].Payload != `{"rating":1}` {
		t.Errorf("Payload = %q", ops[0].Payload)
	}
}

func TestQueue_ClosedErrors(t *testing.T) {
	q, err := OpenQueue(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Failed to open queue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := q.Enqueue(KindFeedback, 1, `{}`); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
	if _, err := q.Len(); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Len after Close = %v, want ErrQueueClosed", err)
	}

	// Closing twice is fine.
	if err := q.Close(); err != nil {
		t.Errorf("Second Close = %v, want nil", err)
	}
}
