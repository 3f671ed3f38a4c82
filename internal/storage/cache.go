// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable local mirror of session state.
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/util"
)

// =============================================================================
// ON-DISK ENVELOPES
// =============================================================================

// sessionRecord is the on-disk envelope for one session's message list.
type sessionRecord struct {
	Session  chat.Session    `json:"session"`
	Messages []*chat.Message `json:"messages"`
	SavedAt  time.Time       `json:"saved_at"`
}

// ratingRecord is the on-disk envelope for one session's feedback map.
type ratingRecord struct {
	SessionID int64                 `json:"session_id"`
	Ratings   map[int64]chat.Rating `json:"ratings"`
	SavedAt   time.Time             `json:"saved_at"`
}

const (
	sessionFilePrefix = "sess_"
	ratingFilePrefix  = "ratings_"
	cacheFileSuffix   = ".json"
)

// =============================================================================
// CACHE
// =============================================================================

// Cache mirrors session message lists and feedback on local disk, one JSON
// file per session. Writes are synchronous and atomic; reads are served from
// an in-memory copy populated at startup.
//
// The cache is the fallback source when the backend cannot be reached, and
// the durable record behind mid-stream write-through: after a crash the
// message list is intact up to the last applied frame.
//
// Callers treat write failures as best-effort; a failed write must never
// abort the operation that triggered it.
type Cache struct {
	mu  sync.RWMutex
	dir string

	sessions map[int64]*sessionRecord
	ratings  map[int64]map[int64]chat.Rating
}

// NewCache opens the cache rooted at dir, creating it if needed, and loads
// every readable record. Corrupt files are skipped, not fatal.
func NewCache(dir string) (*Cache, error) {
	// SECURITY: Conversation content is private; keep the directory 0700.
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		dir:      dir,
		sessions: make(map[int64]*sessionRecord),
		ratings:  make(map[int64]map[int64]chat.Rating),
	}
	c.load()
	return c, nil
}

// load scans the cache directory and fills the in-memory mirror.
// RELIABILITY: A corrupt or unreadable file costs one session's history,
// never the whole cache.
func (c *Cache) load() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		log.Printf("WARNING: Failed to scan cache directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, cacheFileSuffix) {
			continue
		}

		path := filepath.Join(c.dir, name)
		switch {
		case strings.HasPrefix(name, sessionFilePrefix):
			c.loadSessionFile(path, name)
		case strings.HasPrefix(name, ratingFilePrefix):
			c.loadRatingFile(path, name)
		}
	}
}

func (c *Cache) loadSessionFile(path, name string) {
	id, ok := idFromFilename(name, sessionFilePrefix)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARNING: Skipping unreadable cache file %s: %v", name, err)
		return
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("WARNING: Skipping corrupt cache file %s: %v", name, err)
		return
	}
	if rec.Session.ID != id {
		log.Printf("WARNING: Skipping cache file %s: id mismatch", name)
		return
	}

	c.sessions[id] = &rec
}

func (c *Cache) loadRatingFile(path, name string) {
	id, ok := idFromFilename(name, ratingFilePrefix)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WARNING: Skipping unreadable cache file %s: %v", name, err)
		return
	}

	var rec ratingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("WARNING: Skipping corrupt cache file %s: %v", name, err)
		return
	}
	if rec.Ratings == nil {
		rec.Ratings = make(map[int64]chat.Rating)
	}

	c.ratings[id] = rec.Ratings
}

// idFromFilename extracts the session id from "<prefix><id>.json".
func idFromFilename(name, prefix string) (int64, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), cacheFileSuffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// =============================================================================
// MESSAGE LIST OPERATIONS
// =============================================================================

// Write persists the full message list for a session. Called after every
// message-list mutation, including per-frame updates while streaming, so the
// on-disk copy trails the live list by at most one frame.
func (c *Cache) Write(session chat.Session, messages []*chat.Message) error {
	cloned := make([]*chat.Message, len(messages))
	for i, m := range messages {
		cloned[i] = m.Clone()
	}

	rec := &sessionRecord{
		Session:  session,
		Messages: cloned,
		SavedAt:  time.Now(),
	}

	c.mu.Lock()
	c.sessions[session.ID] = rec
	c.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(c.sessionFile(session.ID), data, 0600); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Read returns the cached message list for a session, or false when the
// session has no cached entry. The returned messages are copies.
func (c *Cache) Read(sessionID int64) ([]*chat.Message, bool) {
	c.mu.RLock()
	rec, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	messages := make([]*chat.Message, len(rec.Messages))
	for i, m := range rec.Messages {
		messages[i] = m.Clone()
	}
	return messages, true
}

// Sessions returns the cached session summaries, most recently updated first.
func (c *Cache) Sessions() []chat.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sessions := make([]chat.Session, 0, len(c.sessions))
	for _, rec := range c.sessions {
		sessions = append(sessions, rec.Session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions
}

// Delete removes a session's cached messages and ratings. Deleting a session
// that was never cached is not an error.
func (c *Cache) Delete(sessionID int64) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	delete(c.ratings, sessionID)
	c.mu.Unlock()

	var firstErr error
	for _, path := range []string{c.sessionFile(sessionID), c.ratingFile(sessionID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove cache file: %w", err)
		}
	}
	return firstErr
}

// =============================================================================
// RATING OPERATIONS
// =============================================================================

// WriteRating records a feedback value for one message. Last write wins;
// RatingNone clears the entry.
func (c *Cache) WriteRating(sessionID, messageID int64, rating chat.Rating) error {
	c.mu.Lock()
	m := c.ratings[sessionID]
	if m == nil {
		m = make(map[int64]chat.Rating)
		c.ratings[sessionID] = m
	}
	if rating == chat.RatingNone {
		delete(m, messageID)
	} else {
		m[messageID] = rating
	}

	rec := ratingRecord{
		SessionID: sessionID,
		Ratings:   make(map[int64]chat.Rating, len(m)),
		SavedAt:   time.Now(),
	}
	for k, v := range m {
		rec.Ratings[k] = v
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rating record: %w", err)
	}
	if err := util.AtomicWriteFile(c.ratingFile(sessionID), data, 0600); err != nil {
		return fmt.Errorf("failed to write rating record: %w", err)
	}
	return nil
}

// Ratings returns a copy of the feedback map for a session. The map is empty,
// never nil, when no feedback is stored.
func (c *Cache) Ratings(sessionID int64) map[int64]chat.Rating {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64]chat.Rating, len(c.ratings[sessionID]))
	for k, v := range c.ratings[sessionID] {
		out[k] = v
	}
	return out
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats summarizes cache contents for status display.
type Stats struct {
	Sessions  int
	Messages  int
	SizeBytes int64
}

// Stats returns a summary of what the cache holds.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Sessions: len(c.sessions)}
	for _, rec := range c.sessions {
		s.Messages += len(rec.Messages)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return s
	}
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			s.SizeBytes += info.Size()
		}
	}
	return s
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) sessionFile(id int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s%d%s", sessionFilePrefix, id, cacheFileSuffix))
}

func (c *Cache) ratingFile(id int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s%d%s", ratingFilePrefix, id, cacheFileSuffix))
}
