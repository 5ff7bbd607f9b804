package relay

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the shared pending-command table. The dispatcher inserts records;
// the agent-result handler completes them; the caller-facing surface reads.
type Store struct {
	mu              sync.Mutex
	commands        map[string]*Command
	maxPayloadBytes int64
	logger          *logrus.Entry
}

// NewStore creates an empty command store. maxPayloadBytes caps the total
// buffered size of a chunked transfer per command id.
func NewStore(maxPayloadBytes int64, logger *logrus.Entry) *Store {
	return &Store{
		commands:        make(map[string]*Command),
		maxPayloadBytes: maxPayloadBytes,
		logger:          logger.WithField("component", "command-store"),
	}
}

// Insert adds a correlation record in state pending. Called by the
// dispatcher before any network emission, so a poll immediately after
// dispatch always finds the record.
func (s *Store) Insert(cmd *Command) {
	s.mu.Lock()
	s.commands[cmd.ID] = cmd
	s.mu.Unlock()
}

// SubmitResult completes a command in one step with its final payload.
// Repeated pushes after completion are rejected so the pending→completed
// transition happens exactly once.
func (s *Store) SubmitResult(commandID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return ErrCommandNotFound
	}
	if cmd.Completed {
		return ErrAlreadyCompleted
	}

	cmd.Result = result
	s.complete(cmd)
	return nil
}

// SubmitChunk appends one fragment of a chunked result. The command is
// completed only once all chunks arrived; fragments may arrive out of order.
func (s *Store) SubmitChunk(commandID, chunk string, chunkIndex, totalChunks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return ErrCommandNotFound
	}
	if cmd.Completed {
		return ErrAlreadyCompleted
	}

	if totalChunks <= 0 || chunkIndex < 0 || chunkIndex >= totalChunks {
		return ErrChunkMismatch
	}
	if cmd.totalChunks == 0 {
		cmd.totalChunks = totalChunks
		cmd.parts = make([]string, totalChunks)
		cmd.received = make([]bool, totalChunks)
	} else if cmd.totalChunks != totalChunks {
		return ErrChunkMismatch
	}

	if cmd.received[chunkIndex] {
		// Duplicate delivery of the same fragment; first one wins
		return nil
	}

	cmd.bufferedBytes += int64(len(chunk))
	if cmd.bufferedBytes > s.maxPayloadBytes {
		cmd.Error = "payload too large"
		s.freeChunks(cmd)
		s.complete(cmd)
		s.logger.WithField("command_id", commandID).Warn("Chunked payload over the cap, command failed")
		return ErrPayloadTooLarge
	}

	cmd.parts[chunkIndex] = chunk
	cmd.received[chunkIndex] = true
	cmd.chunksReceived++

	if cmd.chunksReceived == cmd.totalChunks {
		assembled := strings.Join(cmd.parts, "")
		if json.Valid([]byte(assembled)) {
			cmd.Result = json.RawMessage(assembled)
		} else {
			// Non-JSON payloads are delivered as a JSON string
			quoted, err := json.Marshal(assembled)
			if err != nil {
				cmd.Error = "failed to assemble chunked payload"
			} else {
				cmd.Result = quoted
			}
		}
		s.freeChunks(cmd)
		s.complete(cmd)
	}
	return nil
}

// Get returns the caller-visible state of a command after verifying the
// caller owns it. Safe to call any number of times; reads have no side
// effects and completed payloads are returned unchanged on every poll.
func (s *Store) Get(commandID string, identityID int) (*ResultView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return nil, ErrCommandNotFound
	}
	if cmd.IdentityID != identityID {
		return nil, ErrNotOwner
	}

	view := &ResultView{Status: StatusPending}
	switch {
	case cmd.Completed && cmd.Error != "":
		view.Status = StatusError
		view.Error = cmd.Error
	case cmd.Completed:
		view.Status = StatusCompleted
		view.Result = cmd.Result
	case cmd.totalChunks > 0:
		view.ChunksReceived = cmd.chunksReceived
		view.TotalChunks = cmd.totalChunks
	}
	return view, nil
}

// Owner reports the agent id a command was dispatched to
func (s *Store) Owner(commandID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[commandID]
	if !ok {
		return "", false
	}
	return cmd.AgentID, true
}

// Sweep removes commands past the retention window: completed records aged
// from completion, abandoned pending records aged from creation. Returns the
// number removed.
func (s *Store) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, cmd := range s.commands {
		ref := cmd.CreatedAt
		if cmd.Completed {
			ref = cmd.CompletedAt
		}
		if now.Sub(ref) > retention {
			delete(s.commands, id)
			removed++
		}
	}
	return removed
}

// Len reports how many correlation records are held
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

func (s *Store) complete(cmd *Command) {
	cmd.Completed = true
	cmd.CompletedAt = time.Now()
}

func (s *Store) freeChunks(cmd *Command) {
	cmd.parts = nil
	cmd.received = nil
	cmd.bufferedBytes = 0
}
