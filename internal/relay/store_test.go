package relay

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestStore() *Store {
	return NewStore(32<<20, testLogger())
}

func insertCommand(s *Store, id string, identityID int) {
	s.Insert(&Command{
		ID:         id,
		AgentID:    "agent-1",
		IdentityID: identityID,
		Command:    "/status",
		Method:     "GET",
		CreatedAt:  time.Now(),
	})
}

func TestGet_PendingAfterInsert(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	view, err := s.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != StatusPending {
		t.Errorf("Expected pending, got %s", view.Status)
	}
	if view.Result != nil {
		t.Error("Pending command should have no payload")
	}
}

func TestGet_UnknownCommand(t *testing.T) {
	s := newTestStore()
	if _, err := s.Get("nope", 1); err != ErrCommandNotFound {
		t.Errorf("Expected ErrCommandNotFound, got %v", err)
	}
}

func TestSubmitResult_RoundTrip(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	payload := json.RawMessage(`{"ok":true}`)
	if err := s.SubmitResult("cmd-1", payload); err != nil {
		t.Fatalf("SubmitResult() failed: %v", err)
	}

	// Repeated polls after completion return the same payload
	for i := 0; i < 3; i++ {
		view, err := s.Get("cmd-1", 1)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if view.Status != StatusCompleted {
			t.Fatalf("Expected completed, got %s", view.Status)
		}
		if string(view.Result) != `{"ok":true}` {
			t.Errorf("Expected payload {\"ok\":true}, got %s", view.Result)
		}
	}
}

func TestSubmitResult_CompletesExactlyOnce(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	if err := s.SubmitResult("cmd-1", json.RawMessage(`1`)); err != nil {
		t.Fatalf("SubmitResult() failed: %v", err)
	}
	if err := s.SubmitResult("cmd-1", json.RawMessage(`2`)); err != ErrAlreadyCompleted {
		t.Errorf("Expected ErrAlreadyCompleted, got %v", err)
	}

	view, _ := s.Get("cmd-1", 1)
	if string(view.Result) != `1` {
		t.Errorf("First result should win, got %s", view.Result)
	}
}

func TestSubmitChunk_OutOfOrderReassembly(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	// `{"files":["a","b"]}` split into three fragments, delivered out of order
	if err := s.SubmitChunk("cmd-1", `["a",`, 1, 3); err != nil {
		t.Fatalf("SubmitChunk() failed: %v", err)
	}
	if err := s.SubmitChunk("cmd-1", `"b"]}`, 2, 3); err != nil {
		t.Fatalf("SubmitChunk() failed: %v", err)
	}

	// Two of three received: still pending, with chunk progress reported
	view, err := s.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != StatusPending {
		t.Fatalf("Expected pending with missing chunk, got %s", view.Status)
	}
	if view.ChunksReceived != 2 || view.TotalChunks != 3 {
		t.Errorf("Expected 2/3 chunk progress, got %d/%d", view.ChunksReceived, view.TotalChunks)
	}

	if err := s.SubmitChunk("cmd-1", `{"files":`, 0, 3); err != nil {
		t.Fatalf("SubmitChunk() failed: %v", err)
	}

	view, err = s.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != StatusCompleted {
		t.Fatalf("Expected completed after all chunks, got %s", view.Status)
	}
	if string(view.Result) != `{"files":["a","b"]}` {
		t.Errorf("Expected in-order concatenation, got %s", view.Result)
	}
}

func TestSubmitChunk_DuplicateFragmentIgnored(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	if err := s.SubmitChunk("cmd-1", "abc", 0, 2); err != nil {
		t.Fatalf("SubmitChunk() failed: %v", err)
	}
	if err := s.SubmitChunk("cmd-1", "xyz", 0, 2); err != nil {
		t.Fatalf("Duplicate chunk should be ignored, got %v", err)
	}

	view, _ := s.Get("cmd-1", 1)
	if view.Status != StatusPending {
		t.Errorf("Expected still pending, got %s", view.Status)
	}
	if view.ChunksReceived != 1 {
		t.Errorf("Duplicate fragment must not double count, got %d", view.ChunksReceived)
	}
}

func TestSubmitChunk_NonJSONPayload(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	s.SubmitChunk("cmd-1", "hello ", 0, 2)
	s.SubmitChunk("cmd-1", "world", 1, 2)

	view, _ := s.Get("cmd-1", 1)
	if view.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", view.Status)
	}
	if string(view.Result) != `"hello world"` {
		t.Errorf("Non-JSON payload should be delivered as a JSON string, got %s", view.Result)
	}
}

func TestSubmitChunk_MetadataMismatch(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	s.SubmitChunk("cmd-1", "a", 0, 3)
	if err := s.SubmitChunk("cmd-1", "b", 1, 4); err != ErrChunkMismatch {
		t.Errorf("Expected ErrChunkMismatch, got %v", err)
	}
	if err := s.SubmitChunk("cmd-1", "b", 5, 3); err != ErrChunkMismatch {
		t.Errorf("Expected ErrChunkMismatch for out-of-range index, got %v", err)
	}
}

func TestSubmitChunk_PayloadTooLarge(t *testing.T) {
	s := NewStore(10, testLogger())
	insertCommand(s, "cmd-1", 1)

	if err := s.SubmitChunk("cmd-1", "0123456789", 0, 2); err != nil {
		t.Fatalf("First chunk within the cap should succeed: %v", err)
	}
	if err := s.SubmitChunk("cmd-1", "overflow", 1, 2); err != ErrPayloadTooLarge {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}

	view, err := s.Get("cmd-1", 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if view.Status != StatusError {
		t.Errorf("Expected error status, got %s", view.Status)
	}
	if view.Error == "" {
		t.Error("Expected error message on oversized payload")
	}
}

func TestGet_OwnershipIsolation(t *testing.T) {
	s := newTestStore()
	insertCommand(s, "cmd-1", 1)

	if _, err := s.Get("cmd-1", 2); err != ErrNotOwner {
		t.Errorf("Identity 2 must not read identity 1's command, got %v", err)
	}
}

func TestSweep_Retention(t *testing.T) {
	s := newTestStore()

	// Completed long ago
	s.Insert(&Command{ID: "old-done", IdentityID: 1, CreatedAt: time.Now().Add(-3 * time.Hour)})
	s.SubmitResult("old-done", json.RawMessage(`1`))
	s.mu.Lock()
	s.commands["old-done"].CompletedAt = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	// Abandoned pending
	s.Insert(&Command{ID: "old-pending", IdentityID: 1, CreatedAt: time.Now().Add(-2 * time.Hour)})

	// Fresh
	s.Insert(&Command{ID: "fresh", IdentityID: 1, CreatedAt: time.Now()})

	removed := s.Sweep(time.Hour)
	if removed != 2 {
		t.Errorf("Expected 2 swept commands, got %d", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 remaining command, got %d", s.Len())
	}
	if _, err := s.Get("fresh", 1); err != nil {
		t.Errorf("Fresh command should survive the sweep: %v", err)
	}
}
