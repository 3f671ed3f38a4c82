// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs runs bounded background polling for long-running operations.
package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// =============================================================================
// POLLER TESTS
// =============================================================================

func TestRun_FinishesWhenCheckReportsDone(t *testing.T) {
	p := New(time.Millisecond, 10)

	calls := 0
	outcome := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})

	if outcome != OutcomeFinished {
		t.Errorf("Outcome = %s, want %s", outcome, OutcomeFinished)
	}
	if calls != 3 {
		t.Errorf("Check ran %d times, want 3", calls)
	}
}

func TestRun_ExhaustsAttemptBudget(t *testing.T) {
	p := New(time.Millisecond, 5)

	calls := 0
	outcome := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})

	if outcome != OutcomeExhausted {
		t.Errorf("Outcome = %s, want %s", outcome, OutcomeExhausted)
	}
	if calls != 5 {
		t.Errorf("Check ran %d times, want exactly the budget of 5", calls)
	}
}

func TestRun_CheckErrorsSpendAttempts(t *testing.T) {
	p := New(time.Millisecond, 3)

	calls := 0
	outcome := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, errors.New("transient")
	})

	if outcome != OutcomeExhausted {
		t.Errorf("Outcome = %s, want %s", outcome, OutcomeExhausted)
	}
	if calls != 3 {
		t.Errorf("Check ran %d times, want 3", calls)
	}
}

func TestRun_FinishedOnFirstCheck(t *testing.T) {
	p := New(time.Hour, 10) // interval never elapses

	start := time.Now()
	outcome := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		return true, nil
	})

	if outcome != OutcomeFinished {
		t.Errorf("Outcome = %s, want %s", outcome, OutcomeFinished)
	}
	if time.Since(start) > time.Second {
		t.Error("First check must run immediately, not after an interval")
	}
}

func TestRun_Cancelled(t *testing.T) {
	p := New(time.Hour, 10)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := p.Run(ctx, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	if outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want %s", outcome, OutcomeCancelled)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(0, 0)
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultInterval)
	}
	if p.maxAttempts != DefaultMaxAttempts {
		t.Errorf("maxAttempts = %d, want %d", p.maxAttempts, DefaultMaxAttempts)
	}
}

func TestStart_ReportsOutcome(t *testing.T) {
	p := New(time.Millisecond, 2)

	done := make(chan Outcome, 1)
	p.Start(context.Background(), func(ctx context.Context) (bool, error) {
		return true, nil
	}, func(o Outcome) {
		done <- o
	})

	select {
	case o := <-done:
		if o != OutcomeFinished {
			t.Errorf("Outcome = %s, want %s", o, OutcomeFinished)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start never reported an outcome")
	}
}
