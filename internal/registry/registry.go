package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry errors
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrNotOwner      = errors.New("agent belongs to another identity")
)

// Conn is the narrow slice of a socket connection the registry needs.
// socketio.Conn satisfies it; tests substitute fakes.
type Conn interface {
	ID() string
	Emit(event string, args ...interface{})
	Join(room string)
	Leave(room string)
	Close() error
}

// AgentRecord is the live connection state for one registered agent
type AgentRecord struct {
	AgentID    string
	IdentityID int
	// AuthToken is the credential presented at registration, kept for the
	// legacy raw-token-equality lookup path.
	AuthToken   string
	Name        string
	RemoteIP    string
	Conn        Conn
	ConnectedAt time.Time
	LastSeen    time.Time
}

// Registry tracks which agents are currently reachable and which identity
// owns each. Mutated only by the connect/register/disconnect handlers.
type Registry struct {
	mu sync.Mutex
	// agents is keyed by agent id; exactly one live record per id
	agents map[string]*AgentRecord
	// byConn maps connection id to agent id for disconnect handling
	byConn map[string]string
	logger *logrus.Entry
}

// New creates an empty registry
func New(logger *logrus.Entry) *Registry {
	return &Registry{
		agents: make(map[string]*AgentRecord),
		byConn: make(map[string]string),
		logger: logger.WithField("component", "registry"),
	}
}

// Register binds an agent id to a connection. A missing agent id gets a
// generated one. A prior record for the same agent id is replaced
// (last-registration-wins) and its connection leaves the delivery group; a
// connection re-registering under a new agent id evicts its old record.
// The new connection joins the broadcast group named by the agent id.
// Returns a copy of the record; the live one stays behind the mutex.
func (r *Registry) Register(identityID int, authToken, agentID, name string, conn Conn, remoteIP string) AgentRecord {
	if agentID == "" {
		agentID = uuid.NewString()
	}

	now := time.Now()
	rec := &AgentRecord{
		AgentID:     agentID,
		IdentityID:  identityID,
		AuthToken:   authToken,
		Name:        name,
		RemoteIP:    remoteIP,
		Conn:        conn,
		ConnectedAt: now,
		LastSeen:    now,
	}

	r.mu.Lock()
	if oldAgentID, ok := r.byConn[conn.ID()]; ok && oldAgentID != agentID {
		if old, ok := r.agents[oldAgentID]; ok {
			delete(r.agents, oldAgentID)
			old.Conn.Leave(oldAgentID)
		}
	}
	if old, ok := r.agents[agentID]; ok {
		delete(r.byConn, old.Conn.ID())
		old.Conn.Leave(agentID)
	}
	r.agents[agentID] = rec
	r.byConn[conn.ID()] = agentID
	out := *rec
	r.mu.Unlock()

	conn.Join(agentID)

	r.logger.WithFields(logrus.Fields{
		"agent_id":    agentID,
		"identity_id": identityID,
		"remote_ip":   remoteIP,
	}).Info("Agent registered")

	return out
}

// Unregister removes the agent record bound to a connection id; idempotent
// if the connection never registered.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	agentID, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		delete(r.agents, agentID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.WithField("agent_id", agentID).Info("Agent unregistered")
	}
}

// FindForIdentity returns all live agents whose stored auth token equals the
// caller's token OR whose owning identity matches. The union tolerates the
// two historical binding schemes. Records are copied out so readers never
// observe a concurrent Touch.
func (r *Registry) FindForIdentity(identityID int, authToken string) []AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AgentRecord
	for _, rec := range r.agents {
		if rec.IdentityID == identityID || (authToken != "" && rec.AuthToken == authToken) {
			out = append(out, *rec)
		}
	}
	return out
}

// Get returns a copy of the record for an agent id
func (r *Registry) Get(agentID string) (AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec, true
}

// AgentIDForConn resolves the agent id registered on a connection
func (r *Registry) AgentIDForConn(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.byConn[connID]
	return agentID, ok
}

// Touch updates an agent's last-seen timestamp
func (r *Registry) Touch(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.agents[agentID]; ok {
		rec.LastSeen = time.Now()
	}
}

// Disconnect closes and removes one of the identity's agents on request
func (r *Registry) Disconnect(identityID int, agentID string) error {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return ErrAgentNotFound
	}
	if rec.IdentityID != identityID {
		r.mu.Unlock()
		return ErrNotOwner
	}
	delete(r.agents, agentID)
	delete(r.byConn, rec.Conn.ID())
	r.mu.Unlock()

	rec.Conn.Leave(agentID)
	if err := rec.Conn.Close(); err != nil {
		r.logger.WithField("agent_id", agentID).Warnf("Failed to close connection: %v", err)
	}

	r.logger.WithFields(logrus.Fields{
		"agent_id":    agentID,
		"identity_id": identityID,
	}).Info("Agent disconnected by request")
	return nil
}
