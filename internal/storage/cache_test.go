// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the durable local mirror of session state.
package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// CACHE TESTS
// =============================================================================

func testSession(id int64, title string) chat.Session {
	now := time.Now()
	return chat.Session{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCache_WriteAndRead(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	messages := []*chat.Message{
		chat.NewUserMessage(chat.ModuleGeneral, "Hello"),
		chat.NewErrorMessage(chat.ModuleGeneral, "it broke"),
	}

	if err := cache.Write(testSession(100, "First"), messages); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	loaded, ok := cache.Read(100)
	if !ok {
		t.Fatal("Expected a cached entry for session 100")
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Hello" {
		t.Errorf("Content = %q, want 'Hello'", loaded[0].Content)
	}
	if !loaded[1].IsError {
		t.Error("Error flag should survive the round trip")
	}
}

func TestCache_ReadAbsent(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if _, ok := cache.Read(999); ok {
		t.Error("Read of an unknown session should report absent")
	}
}

func TestCache_ReadReturnsCopies(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	original := []*chat.Message{chat.NewUserMessage(chat.ModuleGeneral, "immutable")}
	if err := cache.Write(testSession(1, "t"), original); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	first, _ := cache.Read(1)
	first[0].Content = "mutated"

	second, _ := cache.Read(1)
	if second[0].Content != "immutable" {
		t.Error("Mutating a read result must not affect the cache")
	}
}

func TestCache_WriteCapturesStreamingContent(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	assistant := chat.NewAssistantMessage(chat.ModuleGeneral)
	assistant.AppendContent("partial answ")

	if err := cache.Write(testSession(2, "t"), []*chat.Message{assistant}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	loaded, _ := cache.Read(2)
	if loaded[0].Content != "partial answ" {
		t.Errorf("Mid-stream content = %q, want 'partial answ'", loaded[0].Content)
	}
}

func TestCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	messages := []*chat.Message{chat.NewUserMessage(chat.ModuleQA, "persist me")}
	if err := cache.Write(testSession(7, "Durable"), messages); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := cache.WriteRating(7, 42, chat.RatingUp); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}

	// A fresh cache over the same directory sees everything.
	reopened, err := NewCache(dir)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}

	loaded, ok := reopened.Read(7)
	if !ok {
		t.Fatal("Reopened cache lost session 7")
	}
	if loaded[0].Content != "persist me" {
		t.Errorf("Content = %q, want 'persist me'", loaded[0].Content)
	}
	if loaded[0].Module != chat.ModuleQA {
		t.Errorf("Module = %q, want %q", loaded[0].Module, chat.ModuleQA)
	}

	ratings := reopened.Ratings(7)
	if ratings[42] != chat.RatingUp {
		t.Errorf("Rating = %v, want up", ratings[42])
	}

	sessions := reopened.Sessions()
	if len(sessions) != 1 || sessions[0].Title != "Durable" {
		t.Errorf("Sessions() = %+v, want one titled 'Durable'", sessions)
	}
}

func TestCache_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	if err := cache.Write(testSession(1, "Good"), []*chat.Message{chat.NewUserMessage(chat.ModuleGeneral, "ok")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Plant junk next to the good record.
	if err := os.WriteFile(filepath.Join(dir, "sess_2.json"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to plant corrupt file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sess_bogus.json"), []byte("{}"), 0600); err != nil {
		t.Fatalf("Failed to plant misnamed file: %v", err)
	}

	reopened, err := NewCache(dir)
	if err != nil {
		t.Fatalf("Corrupt files must not fail the open: %v", err)
	}

	if _, ok := reopened.Read(1); !ok {
		t.Error("Good record lost alongside corrupt ones")
	}
	if _, ok := reopened.Read(2); ok {
		t.Error("Corrupt record should have been skipped")
	}
	if len(reopened.Sessions()) != 1 {
		t.Errorf("Sessions() = %d entries, want 1", len(reopened.Sessions()))
	}
}

func TestCache_Delete(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	if err := cache.Write(testSession(5, "Doomed"), []*chat.Message{chat.NewUserMessage(chat.ModuleGeneral, "bye")}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := cache.WriteRating(5, 10, chat.RatingDown); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}

	if err := cache.Delete(5); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, ok := cache.Read(5); ok {
		t.Error("Session should be gone after Delete")
	}
	if len(cache.Ratings(5)) != 0 {
		t.Error("Ratings should be gone after Delete")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read cache dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Cache dir should be empty after Delete, found %d entries", len(entries))
	}

	// Deleting again is a no-op.
	if err := cache.Delete(5); err != nil {
		t.Errorf("Repeated Delete should not error: %v", err)
	}
}

func TestCache_SessionsSortedByUpdate(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	old := testSession(1, "Old")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := testSession(2, "Fresh")

	if err := cache.Write(old, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := cache.Write(fresh, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sessions := cache.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != 2 || sessions[1].ID != 1 {
		t.Errorf("Order = [%d, %d], want [2, 1]", sessions[0].ID, sessions[1].ID)
	}
}

// =============================================================================
// RATING TESTS
// =============================================================================

func TestCache_WriteRating(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if err := cache.WriteRating(1, 100, chat.RatingUp); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}
	if err := cache.WriteRating(1, 101, chat.RatingDown); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}

	ratings := cache.Ratings(1)
	if len(ratings) != 2 {
		t.Fatalf("Expected 2 ratings, got %d", len(ratings))
	}
	if ratings[100] != chat.RatingUp || ratings[101] != chat.RatingDown {
		t.Errorf("Ratings = %v", ratings)
	}
}

func TestCache_WriteRatingLastWriteWins(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if err := cache.WriteRating(1, 100, chat.RatingUp); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}
	if err := cache.WriteRating(1, 100, chat.RatingDown); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}

	if got := cache.Ratings(1)[100]; got != chat.RatingDown {
		t.Errorf("Rating = %v, want down", got)
	}
}

func TestCache_WriteRatingNoneClears(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	if err := cache.WriteRating(1, 100, chat.RatingUp); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}
	if err := cache.WriteRating(1, 100, chat.RatingNone); err != nil {
		t.Fatalf("WriteRating failed: %v", err)
	}

	if len(cache.Ratings(1)) != 0 {
		t.Error("RatingNone should clear the stored entry")
	}
}

func TestCache_RatingsNeverNil(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	ratings := cache.Ratings(12345)
	if ratings == nil {
		t.Fatal("Ratings must return an empty map, not nil")
	}
	if len(ratings) != 0 {
		t.Errorf("Expected empty map, got %v", ratings)
	}
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestCache_Stats(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	messages := []*chat.Message{
		chat.NewUserMessage(chat.ModuleGeneral, "one"),
		chat.NewUserMessage(chat.ModuleGeneral, "two"),
	}
	if err := cache.Write(testSession(1, "a"), messages); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := cache.Write(testSession(2, "b"), messages[:1]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	stats := cache.Stats()
	if stats.Sessions != 2 {
		t.Errorf("Sessions = %d, want 2", stats.Sessions)
	}
	if stats.Messages != 3 {
		t.Errorf("Messages = %d, want 3", stats.Messages)
	}
	if stats.SizeBytes == 0 {
		t.Error("SizeBytes should count the written files")
	}
}
