// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inkwell

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/backend"
	"github.com/jeranaias/inkwell/internal/feedback"
	"github.com/jeranaias/inkwell/internal/jobs"
	"github.com/jeranaias/inkwell/internal/offline"
	"github.com/jeranaias/inkwell/internal/storage"
)

// CancelMarker is appended to a cancelled reply, exactly once, after whatever
// content had streamed in before the cancellation.
const CancelMarker = "_Generation stopped._"

// Sentinel errors returned by controller operations.
var (
	// ErrNoActiveSession is returned by operations that need a selected session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoSessions signals that a deletion removed the last session.
	ErrNoSessions = errors.New("no sessions remain")

	// ErrUnknownSession is returned for session ids the controller has never
	// seen.
	ErrUnknownSession = errors.New("unknown session")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("controller is closed")
)

// =============================================================================
// EXCHANGE TRACKING
// =============================================================================

// exchange tracks one in-flight streaming send from before transport
// establishment until the terminal message state is applied and cached.
// Registering it ahead of the network call means a session switch always has
// something to cancel and wait on; there is no window in which an untracked
// stream could later mutate state.
type exchange struct {
	sessionID int64
	cancel    context.CancelFunc

	// stream and sawFrame are guarded by Controller.mu.
	stream   *backend.StreamSession
	sawFrame bool

	// done is closed when the exchange has fully settled, including the final
	// cache write.
	done chan struct{}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns the active session identity and the single in-flight
// streaming exchange. It is the only component a host application talks to.
//
// All state is instance-owned; independent controllers coexist. Methods are
// safe for concurrent use, though a host normally drives operations from one
// goroutine and calls only CancelActive from others (e.g. a signal handler).
type Controller struct {
	cfg      *Config
	client   *backend.Client
	cache    *storage.Cache
	queue    *offline.Queue
	feedback *feedback.Manager
	poller   *jobs.Poller

	mu       sync.Mutex
	sessions map[int64]*chat.Session
	active   int64 // 0 = none
	messages []*chat.Message
	module   chat.ModuleType
	exch     *exchange
	stats    chat.Statistics
	onEvent  func(Event)
	closed   bool

	unsubscribe func()
}

// New builds a controller from cfg. Nil cfg means defaults. The data
// directory is created on demand; the offline queue and session cache open
// eagerly so a broken data dir fails here, not mid-conversation.
func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		cfg = Default()
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	cache, err := storage.NewCache(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session cache: %w", err)
	}

	queue, err := offline.OpenQueue(filepath.Join(dataDir, "queue.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue: %w", err)
	}

	client := backend.NewClient(cfg.Backend.Token).
		WithBaseURL(cfg.Backend.BaseURL).
		WithTimeout(time.Duration(cfg.Backend.TimeoutSecs) * time.Second).
		WithMaxRetries(cfg.Backend.MaxRetries)
	if cfg.Backend.RequestsPerSecond > 0 {
		client = client.WithRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst)
	}

	c := &Controller{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		queue:    queue,
		feedback: feedback.NewManager(client, cache, queue),
		poller:   jobs.New(time.Duration(cfg.Stream.PollIntervalSecs)*time.Second, cfg.Stream.PollMaxAttempts),
		sessions: make(map[int64]*chat.Session),
		module:   cfg.DefaultModule(),
	}

	// Seed the session list from the cache so the engine is usable before
	// any remote round trip, and offline.
	for _, s := range cache.Sessions() {
		sess := s
		c.sessions[sess.ID] = &sess
	}

	if cfg.Offline {
		offline.SetOnline(false)
	}

	c.unsubscribe = offline.Subscribe(c.onConnectivityChange)

	return c, nil
}

// Close cancels any in-flight exchange, waits for it to settle, and releases
// the queue. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ex := c.exch
	c.mu.Unlock()

	if ex != nil {
		c.cancelAndWait(ex)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.queue.Close()
}

// OnEvent registers the observer callback. Events are delivered synchronously
// in application order; the handler must not block or call back into the
// controller.
func (c *Controller) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// NewSession creates a session and activates it. Online, the session is
// created remotely; otherwise (or when the remote create fails) it is a
// local-only session that a later Send will try to promote.
func (c *Controller) NewSession(ctx context.Context, title string) (*chat.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	ex := c.exch
	c.mu.Unlock()

	if ex != nil {
		c.cancelAndWait(ex)
	}

	var sess *chat.Session
	if offline.IsOnline() {
		info, err := c.client.CreateSession(ctx, title)
		switch {
		case err == nil:
			sess = info.ToSession()
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			log.Printf("WARNING: remote session create failed, creating local-only session: %v", err)
		}
	}
	if sess == nil {
		sess = chat.NewLocalSession(title)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.sessions[sess.ID] = sess
	c.active = sess.ID
	c.messages = nil
	if err := c.cache.Write(*sess, nil); err != nil {
		log.Printf("WARNING: session cache write: %v", err)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventSessionSelected, SessionID: sess.ID})
	return sess.Clone(), nil
}

// SelectSession activates a session. Any in-flight exchange is cancelled and
// fully settled before the new session's messages load, so no stale frame can
// touch the incoming list. Messages load remotely with a cache fallback;
// local-only sessions read from the cache directly.
func (c *Controller) SelectSession(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	sess, ok := c.sessions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	ex := c.exch
	c.mu.Unlock()

	if ex != nil {
		c.cancelAndWait(ex)
	}

	msgs := c.loadMessages(ctx, sess)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.active = id
	c.messages = msgs
	c.mu.Unlock()

	c.emit(Event{Kind: EventSessionSelected, SessionID: id})
	return nil
}

// loadMessages fetches a session's messages, falling back to the cache when
// the remote read fails or is unavailable.
func (c *Controller) loadMessages(ctx context.Context, sess *chat.Session) []*chat.Message {
	if sess.IsLocal() || !offline.IsOnline() {
		msgs, _ := c.cache.Read(sess.ID)
		return c.applyStoredRatings(sess.ID, msgs)
	}

	records, err := c.client.Messages(ctx, sess.ID)
	if err != nil {
		log.Printf("WARNING: remote messages unavailable for session %d, using cache: %v", sess.ID, err)
		msgs, _ := c.cache.Read(sess.ID)
		return c.applyStoredRatings(sess.ID, msgs)
	}

	msgs := make([]*chat.Message, 0, len(records))
	for i := range records {
		msgs = append(msgs, records[i].ToMessage())
	}
	if err := c.cache.Write(*sess, msgs); err != nil {
		log.Printf("WARNING: session cache write: %v", err)
	}
	return c.applyStoredRatings(sess.ID, msgs)
}

// applyStoredRatings decorates messages with locally stored rating display
// state. Ratings live in the per-session store, not in the message records.
func (c *Controller) applyStoredRatings(sessionID int64, msgs []*chat.Message) []*chat.Message {
	ratings := c.feedback.RatingsFor(sessionID)
	if len(ratings) == 0 {
		return msgs
	}
	for _, m := range msgs {
		if r, ok := ratings[m.ID]; ok {
			m.Rating = r
		}
	}
	return msgs
}

// RefreshSessions merges the remote session list into the known set. Cached
// local-only sessions are kept; remote entries are added or updated, never
// removed (removal happens only through DeleteSession). When the remote list
// is unavailable the cached listing stands.
func (c *Controller) RefreshSessions(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if !offline.IsOnline() {
		return nil
	}

	infos, err := c.client.ListSessions(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("WARNING: session list unavailable, using cache: %v", err)
		return nil
	}

	c.mu.Lock()
	for i := range infos {
		s := infos[i].ToSession()
		c.sessions[s.ID] = s
	}
	c.mu.Unlock()
	return nil
}

// DeleteSession removes a session remotely (unless local-only) and locally.
// Deleting the active session activates the most recently updated remaining
// session, or returns ErrNoSessions when none remain.
func (c *Controller) DeleteSession(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.sessions[id]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	var ex *exchange
	if c.active == id {
		ex = c.exch
	}
	c.mu.Unlock()

	if ex != nil {
		c.cancelAndWait(ex)
	}

	if !chat.IsLocalID(id) {
		if err := c.client.DeleteSession(ctx, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("failed to delete session %d: %w", id, err)
		}
	}

	c.mu.Lock()
	delete(c.sessions, id)
	if err := c.cache.Delete(id); err != nil {
		log.Printf("WARNING: session cache delete: %v", err)
	}
	wasActive := c.active == id
	var next *chat.Session
	if wasActive {
		c.active = 0
		c.messages = nil
		for _, s := range c.sessions {
			if next == nil || s.UpdatedAt.After(next.UpdatedAt) {
				next = s
			}
		}
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventSessionDeleted, SessionID: id})

	if !wasActive {
		return nil
	}
	if next == nil {
		return ErrNoSessions
	}
	return c.SelectSession(ctx, next.ID)
}

// =============================================================================
// SENDING
// =============================================================================

// Send runs one full streaming exchange for the active session and module:
// optimistic user message, assistant placeholder, frame application in
// arrival order with write-through caching, terminal finalization. It blocks
// until the exchange settles.
//
// Cancellation (CancelActive, a session switch, or Close) is not an error:
// the partial reply is kept with the cancellation marker appended and Send
// returns nil. Transport failure falls back once to the one-shot endpoint;
// if that also fails the failure surfaces as a synthetic assistant message,
// still not an error return.
func (c *Controller) Send(ctx context.Context, text string, opts chat.SendOptions) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	opts = c.fillOptions(opts)

	// Starting a new exchange implicitly cancels one still in flight.
	c.mu.Lock()
	for c.exch != nil {
		prev := c.exch
		c.mu.Unlock()
		c.cancelAndWait(prev)
		c.mu.Lock()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active == 0 {
		c.mu.Unlock()
		return ErrNoActiveSession
	}

	sess := c.sessions[c.active]
	module := c.module

	userMsg := chat.NewUserMessage(module, text)
	c.messages = append(c.messages, userMsg)
	if sess.Title == "" {
		sess.Title = chat.DeriveTitle(text)
	}

	asstMsg := chat.NewAssistantMessage(module)
	c.messages = append(c.messages, asstMsg)
	sess.Touch()
	sess.MessageCount = len(c.messages)
	c.persistActiveLocked()

	exCtx, exCancel := context.WithCancel(ctx)
	ex := &exchange{
		sessionID: sess.ID,
		cancel:    exCancel,
		done:      make(chan struct{}),
	}
	c.exch = ex

	userSnap := userMsg.Clone()
	asstSnap := asstMsg.Clone()
	c.mu.Unlock()

	defer func() {
		exCancel()
		c.mu.Lock()
		if c.exch == ex {
			c.exch = nil
		}
		c.mu.Unlock()
		close(ex.done)
	}()

	c.emit(Event{Kind: EventMessageAppended, SessionID: ex.sessionID, Message: userSnap})
	c.emit(Event{Kind: EventMessageAppended, SessionID: ex.sessionID, Message: asstSnap})

	// One best-effort promotion attempt per send for local-only sessions.
	if chat.IsLocalID(ex.sessionID) && offline.IsOnline() {
		c.promoteSession(exCtx, ex, sess)
	}

	payload := backend.BuildRequest(module, text, opts)
	stats := chat.NewStatistics()

	stream, err := c.client.OpenStream(exCtx, ex.sessionID, payload)
	if err != nil {
		if exCtx.Err() != nil {
			c.applyCancelled(ex, sess, asstMsg, stats)
			return nil
		}
		log.Printf("WARNING: stream unavailable, falling back to one-shot: %v", err)
		return c.fallbackOneShot(exCtx, ex, sess, asstMsg, payload, stats)
	}

	c.mu.Lock()
	ex.stream = stream
	c.mu.Unlock()
	c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(stream.State())})

	for frame := range stream.Frames() {
		c.applyFrame(ex, sess, asstMsg, frame, stats)
	}

	switch stream.State() {
	case backend.StateCompleted:
		c.applyCompleted(ex, sess, asstMsg, stats)
		return nil
	case backend.StateCancelled:
		c.applyCancelled(ex, sess, asstMsg, stats)
		return nil
	default:
		log.Printf("WARNING: stream broke before a terminal frame, falling back to one-shot: %v", stream.Err())
		return c.fallbackOneShot(exCtx, ex, sess, asstMsg, payload, stats)
	}
}

// fillOptions fills unset string options from the modules config section.
func (c *Controller) fillOptions(opts chat.SendOptions) chat.SendOptions {
	d := c.cfg.Modules
	if opts.Style == "" {
		opts.Style = d.Style
	}
	if opts.PlanType == "" {
		opts.PlanType = d.PlanType
	}
	if opts.Structure == "" {
		opts.Structure = d.Structure
	}
	if opts.Model == "" {
		opts.Model = d.Model
	}
	return opts
}

// promoteSession tries to create a remote counterpart for a local-only
// session, migrating the cache entry and stored ratings to the remote id.
// Failure leaves the session local; the exchange proceeds either way.
func (c *Controller) promoteSession(ctx context.Context, ex *exchange, sess *chat.Session) {
	info, err := c.client.CreateSession(ctx, sess.Title)
	if err != nil {
		log.Printf("WARNING: session promotion failed, staying local-only: %v", err)
		return
	}

	c.mu.Lock()
	if c.exch != ex || c.active != sess.ID {
		c.mu.Unlock()
		return
	}

	oldID := sess.ID
	ratings := c.cache.Ratings(oldID)

	delete(c.sessions, oldID)
	sess.ID = info.ID
	c.sessions[sess.ID] = sess
	c.active = sess.ID
	ex.sessionID = sess.ID

	if err := c.cache.Delete(oldID); err != nil {
		log.Printf("WARNING: session cache delete: %v", err)
	}
	c.persistActiveLocked()
	for messageID, r := range ratings {
		if err := c.cache.WriteRating(sess.ID, messageID, r); err != nil {
			log.Printf("WARNING: rating migration: %v", err)
		}
	}
	c.mu.Unlock()

	// The session identity changed; let observers re-key.
	c.emit(Event{Kind: EventSessionSelected, SessionID: sess.ID})
}

// applyFrame applies one stream frame to the assistant message, in arrival
// order, with a write-through cache update. Frames are dropped once the
// exchange is no longer the active one.
func (c *Controller) applyFrame(ex *exchange, sess *chat.Session, msg *chat.Message, frame backend.Frame, stats *chat.Statistics) {
	stats.RecordFrame()

	c.mu.Lock()
	if c.exch != ex || c.active != ex.sessionID {
		c.mu.Unlock()
		return
	}

	firstFrame := !ex.sawFrame
	ex.sawFrame = true

	switch f := frame.(type) {
	case backend.ChunkFrame:
		if f.HasAccumulated {
			msg.ReplaceContent(f.Accumulated)
		} else {
			msg.AppendContent(f.Content)
		}
	case backend.MessageIDFrame:
		if f.MessageID != 0 {
			msg.ID = f.MessageID
		}
		if f.Metadata != nil {
			msg.Metadata = f.Metadata
		}
	case backend.DoneFrame:
		// Terminal; finalization happens after the frame channel closes.
	}

	sess.Touch()
	c.persistActiveLocked()
	snapshot := msg.Clone()
	c.mu.Unlock()

	if firstFrame {
		c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(backend.StateStreaming)})
	}
	c.emit(Event{Kind: EventMessageUpdated, SessionID: ex.sessionID, Message: snapshot})
}

// applyCompleted freezes the assistant message after a completed stream.
func (c *Controller) applyCompleted(ex *exchange, sess *chat.Session, msg *chat.Message, stats *chat.Statistics) {
	c.mu.Lock()
	if c.exch != ex || c.active != ex.sessionID {
		c.mu.Unlock()
		return
	}
	msg.FinalizeStream()
	sess.Touch()
	c.persistActiveLocked()
	snapshot := msg.Clone()
	c.finishStatsLocked(stats)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(backend.StateCompleted)})
	c.emit(Event{Kind: EventMessageCompleted, SessionID: ex.sessionID, Message: snapshot})
}

// applyCancelled freezes the assistant message with the cancellation marker.
// Cancellation is a first-class terminal state, never reported as an error.
func (c *Controller) applyCancelled(ex *exchange, sess *chat.Session, msg *chat.Message, stats *chat.Statistics) {
	c.mu.Lock()
	if c.exch != ex || c.active != ex.sessionID {
		c.mu.Unlock()
		return
	}
	msg.CancelStream(CancelMarker)
	sess.Touch()
	c.persistActiveLocked()
	snapshot := msg.Clone()
	c.finishStatsLocked(stats)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(backend.StateCancelled)})
	c.emit(Event{Kind: EventMessageCompleted, SessionID: ex.sessionID, Message: snapshot})
}

// fallbackOneShot retries the exchange once against the non-streaming
// endpoint, treating its complete result as a single terminal frame. If the
// fallback fails too, the failure surfaces as a synthetic assistant message
// in the list rather than an error return.
func (c *Controller) fallbackOneShot(ctx context.Context, ex *exchange, sess *chat.Session, msg *chat.Message, payload backend.Payload, stats *chat.Statistics) error {
	record, err := c.client.SendMessage(ctx, ex.sessionID, payload)
	if err != nil {
		if ctx.Err() != nil {
			c.applyCancelled(ex, sess, msg, stats)
			return nil
		}
		log.Printf("WARNING: one-shot fallback failed: %v", err)
		c.applyExchangeFailure(ex, sess, msg, stats, err)
		return nil
	}

	stats.RecordFrame()

	c.mu.Lock()
	if c.exch != ex || c.active != ex.sessionID {
		c.mu.Unlock()
		return nil
	}
	msg.ReplaceContent(record.Content)
	if record.ID != 0 {
		msg.ID = record.ID
	}
	if record.Metadata != nil {
		msg.Metadata = record.Metadata
	}
	msg.FinalizeStream()
	sess.Touch()
	c.persistActiveLocked()
	snapshot := msg.Clone()
	c.finishStatsLocked(stats)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(backend.StateCompleted)})
	c.emit(Event{Kind: EventMessageCompleted, SessionID: ex.sessionID, Message: snapshot})
	return nil
}

// applyExchangeFailure replaces the assistant placeholder with a synthetic
// message describing the failure conversationally.
func (c *Controller) applyExchangeFailure(ex *exchange, sess *chat.Session, msg *chat.Message, stats *chat.Statistics, cause error) {
	c.mu.Lock()
	if c.exch != ex || c.active != ex.sessionID {
		c.mu.Unlock()
		return
	}

	errMsg := chat.NewErrorMessage(msg.Module, errorText(cause))
	for i, m := range c.messages {
		if m == msg {
			c.messages[i] = errMsg
			break
		}
	}
	sess.Touch()
	c.persistActiveLocked()
	snapshot := errMsg.Clone()
	c.finishStatsLocked(stats)
	c.mu.Unlock()

	c.emit(Event{Kind: EventStreamState, SessionID: ex.sessionID, State: string(backend.StateFailed)})
	c.emit(Event{Kind: EventMessageCompleted, SessionID: ex.sessionID, Message: snapshot})
}

// errorText renders a failure as conversational message content.
func errorText(err error) string {
	switch {
	case errors.Is(err, backend.ErrAuthFailed):
		return "_Could not generate a reply: authentication failed. Check your access token._"
	case errors.Is(err, backend.ErrRateLimited):
		return "_Could not generate a reply: the service is busy. Try again in a moment._"
	default:
		return fmt.Sprintf("_Could not generate a reply: %v._", err)
	}
}

// CancelActive cancels the in-flight exchange, if any. It does not wait for
// the exchange to settle; the blocked Send applies the cancellation marker
// and returns. Safe to call when idle and from any goroutine.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	ex := c.exch
	var stream *backend.StreamSession
	if ex != nil {
		stream = ex.stream
	}
	c.mu.Unlock()

	if ex == nil {
		return
	}
	if stream != nil {
		stream.Cancel()
		return
	}
	ex.cancel()
}

// cancelAndWait cancels an exchange and blocks until it has fully settled,
// including terminal message finalization and the final cache write.
func (c *Controller) cancelAndWait(ex *exchange) {
	c.mu.Lock()
	stream := ex.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Cancel()
	} else {
		ex.cancel()
	}
	<-ex.done
}

// persistActiveLocked writes the active session's list through to the cache.
// Best-effort: a cache write failure never aborts the exchange that caused it.
// Callers hold c.mu.
func (c *Controller) persistActiveLocked() {
	sess, ok := c.sessions[c.active]
	if !ok {
		return
	}
	sess.MessageCount = len(c.messages)
	if err := c.cache.Write(*sess, c.messages); err != nil {
		log.Printf("WARNING: session cache write: %v", err)
	}
}

func (c *Controller) finishStatsLocked(stats *chat.Statistics) {
	stats.Finalize()
	c.stats = *stats
}

// =============================================================================
// FEEDBACK
// =============================================================================

// Rate records a thumb rating for a message in the active session. The
// display value updates optimistically before the remote write resolves;
// remote failures degrade to local storage or the offline queue.
func (c *Controller) Rate(ctx context.Context, messageID int64, rating chat.Rating) error {
	if rating != chat.RatingUp && rating != chat.RatingDown {
		return fmt.Errorf("invalid rating %d", rating)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.active == 0 {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	sessionID := c.active
	var msg *chat.Message
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			msg = c.messages[i]
			break
		}
	}
	if msg == nil {
		c.mu.Unlock()
		return fmt.Errorf("message %d is not in the active session", messageID)
	}
	msg.Rating = rating
	snapshot := msg.Clone()
	c.mu.Unlock()

	c.emit(Event{Kind: EventMessageUpdated, SessionID: sessionID, Message: snapshot})
	return c.feedback.Rate(ctx, sessionID, snapshot, rating)
}

// =============================================================================
// CONNECTIVITY & QUEUE
// =============================================================================

// SetOnline flips the process-wide connectivity flag. Going online triggers a
// background drain of the offline queue.
func (c *Controller) SetOnline(online bool) {
	offline.SetOnline(online)
}

// Online reports the process-wide connectivity flag.
func (c *Controller) Online() bool {
	return offline.IsOnline()
}

// onConnectivityChange runs on every connectivity flip.
func (c *Controller) onConnectivityChange(online bool) {
	c.emit(Event{Kind: EventConnectivity, Online: online})
	if online {
		go c.drainQueue()
	}
}

// drainQueue replays queued operations after a reconnect.
func (c *Controller) drainQueue() {
	n, err := c.queue.Drain(context.Background(), c.feedback.ApplyQueued)
	if err != nil {
		log.Printf("WARNING: offline queue drain: %v", err)
		return
	}
	if n > 0 {
		c.emit(Event{Kind: EventQueueDrained, Drained: n})
	}
}

// QueueLen reports the number of pending offline operations.
func (c *Controller) QueueLen() int {
	n, err := c.queue.Len()
	if err != nil {
		log.Printf("WARNING: offline queue length: %v", err)
		return 0
	}
	return n
}

// QueuedOps lists pending offline operations for status displays.
func (c *Controller) QueuedOps() []QueuedOp {
	ops, err := c.queue.Pending()
	if err != nil {
		log.Printf("WARNING: offline queue listing: %v", err)
		return nil
	}
	out := make([]QueuedOp, 0, len(ops))
	for _, op := range ops {
		out = append(out, QueuedOp{
			ID:         op.ID,
			Kind:       string(op.Kind),
			TargetID:   op.TargetID,
			Attempts:   op.Attempts,
			LastError:  op.LastError,
			EnqueuedAt: op.EnqueuedAt,
		})
	}
	return out
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// AwaitDocument polls an ingestion job until the document is ready, the job
// fails, or the attempt budget runs out. Budget exhaustion reports not-ready
// without an error; the eventual result is picked up on the next explicit
// check. The returned error is non-nil only for context cancellation.
func (c *Controller) AwaitDocument(ctx context.Context, documentID int64) (bool, error) {
	var ready bool
	outcome := c.poller.Run(ctx, func(ctx context.Context) (bool, error) {
		status, err := c.client.DocumentStatus(ctx, documentID)
		if err != nil {
			return false, err
		}
		if status.IsFailed() {
			return true, nil
		}
		ready = status.IsReady()
		return ready, nil
	})

	switch outcome {
	case jobs.OutcomeCancelled:
		return false, ctx.Err()
	default:
		return ready, nil
	}
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Sessions returns the known sessions, most recently updated first.
func (c *Controller) Sessions() []*chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*chat.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// ActiveSession returns a copy of the active session, or nil when none is
// selected.
func (c *Controller) ActiveSession() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == 0 {
		return nil
	}
	if sess, ok := c.sessions[c.active]; ok {
		return sess.Clone()
	}
	return nil
}

// Messages returns a snapshot of the active session's message list.
func (c *Controller) Messages() []*chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*chat.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Clone())
	}
	return out
}

// Module returns the active module.
func (c *Controller) Module() chat.ModuleType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.module
}

// SetModule switches the active module for subsequent sends.
func (c *Controller) SetModule(m chat.ModuleType) error {
	if !m.IsValid() {
		return fmt.Errorf("unknown module type: %q", m)
	}
	c.mu.Lock()
	c.module = m
	c.mu.Unlock()
	return nil
}

// DefaultSendOptions returns send options seeded from the modules config
// section, for hosts that want to tweak rather than rebuild them.
func (c *Controller) DefaultSendOptions() chat.SendOptions {
	return c.cfg.DefaultSendOptions()
}

// LastStats returns timing for the most recently settled exchange.
func (c *Controller) LastStats() chat.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
