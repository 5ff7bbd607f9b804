package relay

import (
	"encoding/json"
	"errors"
	"time"
)

// Relay errors
var (
	ErrNoAgents         = errors.New("no agents available for identity")
	ErrCommandNotFound  = errors.New("command not found")
	ErrNotOwner         = errors.New("command belongs to another identity")
	ErrAlreadyCompleted = errors.New("command already completed")
	ErrPayloadTooLarge  = errors.New("chunked payload exceeds the size cap")
	ErrChunkMismatch    = errors.New("chunk metadata inconsistent with earlier chunks")
)

// Status of a pending command as seen by the caller
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Command is the correlation record tying a dispatched command to its
// eventual result. Written exactly once by the dispatcher; completed exactly
// once by the owning agent's result push.
type Command struct {
	ID         string
	AgentID    string
	IdentityID int
	Command    string
	Method     string
	Body       string
	CreatedAt  time.Time

	Completed   bool
	CompletedAt time.Time
	Result      json.RawMessage
	Error       string

	// Chunk reassembly state, freed once the payload is assembled
	totalChunks    int
	chunksReceived int
	parts          []string
	received       []bool
	bufferedBytes  int64
}

// CommandRequest is one logical command as submitted by a caller
type CommandRequest struct {
	Command string
	Method  string
	Body    string
	// Context is opaque end-to-end data the relay never inspects
	Context string
	// CommandID overrides the generated id for a single-agent dispatch.
	// Fan-outs to multiple agents always generate fresh ids, since one
	// supplied id cannot name more than one correlation record.
	CommandID string
}

// ResultView is the caller-visible state of a command
type ResultView struct {
	Status Status          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Chunk progress is reported while a chunked transfer is in flight so
	// callers may extend their polling patience
	ChunksReceived int `json:"chunks_received,omitempty"`
	TotalChunks    int `json:"total_chunks,omitempty"`
}
