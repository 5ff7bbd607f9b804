package relay

import (
	"time"

	"go_relay/internal/registry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventExecuteCommand is pushed broker→agent on the agent's delivery group
const EventExecuteCommand = "execute_command"

// Emitter delivers an event to the broadcast group named by an agent id.
// The socket server implements it; tests substitute a recorder.
type Emitter interface {
	EmitToAgent(agentID, event string, data interface{})
}

// DispatchEntry is the correlation handle returned per matched agent
type DispatchEntry struct {
	AgentID   string `json:"agent_id"`
	CommandID string `json:"command_id"`
	Status    Status `json:"status"`
}

// Dispatcher fans a single logical command out to every agent owned by the
// caller and hands back a correlation id per agent.
type Dispatcher struct {
	registry *registry.Registry
	store    *Store
	emitter  Emitter
	logger   *logrus.Entry
}

// NewDispatcher creates a dispatcher
func NewDispatcher(reg *registry.Registry, store *Store, emitter Emitter, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		store:    store,
		emitter:  emitter,
		logger:   logger.WithField("component", "dispatcher"),
	}
}

// DispatchToAll dispatches once per agent matched for the identity. All
// correlation records are inserted before any network emission, so a result
// arriving for one agent can never race ahead of another's table insert.
// Fails with ErrNoAgents when the identity owns zero live agents.
func (d *Dispatcher) DispatchToAll(identityID int, authToken string, req CommandRequest) ([]DispatchEntry, error) {
	agents := d.registry.FindForIdentity(identityID, authToken)
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	now := time.Now()
	entries := make([]DispatchEntry, 0, len(agents))
	for _, agent := range agents {
		commandID := req.CommandID
		if commandID == "" || len(agents) > 1 {
			commandID = uuid.NewString()
		}
		d.store.Insert(&Command{
			ID:         commandID,
			AgentID:    agent.AgentID,
			IdentityID: identityID,
			Command:    req.Command,
			Method:     req.Method,
			Body:       req.Body,
			CreatedAt:  now,
		})
		entries = append(entries, DispatchEntry{
			AgentID:   agent.AgentID,
			CommandID: commandID,
			Status:    StatusPending,
		})
	}

	// Fire-and-forget push; the broker never waits for acknowledgment
	for _, entry := range entries {
		payload := map[string]interface{}{
			"command_id": entry.CommandID,
			"command":    req.Command,
			"method":     req.Method,
			"body":       req.Body,
			"timestamp":  now.Unix(),
		}
		if req.Context != "" {
			payload["context"] = req.Context
		}
		d.emitter.EmitToAgent(entry.AgentID, EventExecuteCommand, payload)
	}

	d.logger.WithFields(logrus.Fields{
		"identity_id": identityID,
		"command":     req.Command,
		"agents":      len(entries),
	}).Info("Command dispatched")

	return entries, nil
}
