// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs runs bounded background polling for long-running operations.
package jobs

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// POLL OUTCOME
// =============================================================================

// Outcome is the terminal result of one polling run.
type Outcome string

const (
	// OutcomeFinished means the checked operation reported completion.
	OutcomeFinished Outcome = "finished"

	// OutcomeExhausted means the attempt budget ran out first. Not an error;
	// the operation's eventual result is picked up on the next explicit
	// reload.
	OutcomeExhausted Outcome = "exhausted"

	// OutcomeCancelled means the context ended the run.
	OutcomeCancelled Outcome = "cancelled"
)

// =============================================================================
// POLLER
// =============================================================================

const (
	// DefaultInterval is the spacing between status checks.
	DefaultInterval = 2 * time.Second

	// DefaultMaxAttempts bounds a run at one minute on the default interval.
	DefaultMaxAttempts = 30
)

// Check inspects the operation once. finished stops the run; an error counts
// as a spent attempt and polling continues.
type Check func(ctx context.Context) (finished bool, err error)

// Poller repeatedly runs a status check at a fixed interval, bounded by a
// maximum attempt count. Exhausting the budget stops polling without raising
// an error anywhere.
type Poller struct {
	interval    time.Duration
	maxAttempts int
}

// New creates a poller. Non-positive arguments fall back to the defaults.
func New(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{interval: interval, maxAttempts: maxAttempts}
}

// Run blocks until the check reports completion, the attempt budget is
// exhausted, or ctx ends. The first check runs immediately; later checks are
// spaced by the interval.
func (p *Poller) Run(ctx context.Context, check Check) Outcome {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		finished, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled
			}
			log.Printf("WARNING: Status check attempt %d/%d failed: %v", attempt, p.maxAttempts, err)
		}
		if finished {
			return OutcomeFinished
		}
		if attempt >= p.maxAttempts {
			return OutcomeExhausted
		}

		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-ticker.C:
		}
	}
}

// Start runs the poller in its own goroutine and reports the outcome to
// done, which may be nil.
func (p *Poller) Start(ctx context.Context, check Check, done func(Outcome)) {
	go func() {
		outcome := p.Run(ctx, check)
		if done != nil {
			done(outcome)
		}
	}()
}
