package ws

import (
	"encoding/json"
	"net"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"go_relay/internal/config"
	"go_relay/internal/identity"
	"go_relay/internal/model"
	"go_relay/internal/ratelimit"
	"go_relay/internal/registry"
	"go_relay/internal/relay"
)

// registerServerData is the payload of the register_server event
type registerServerData struct {
	AgentID   string `json:"agent_id"`
	Name      string `json:"name"`
	AuthToken string `json:"auth_token"`
}

// authenticateUserData is the payload of the authenticate_user event.
// Either identity_id + auth_token or username + password is presented.
type authenticateUserData struct {
	IdentityID int    `json:"identity_id"`
	AuthToken  string `json:"auth_token"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

// commandResponseData is the payload of the command_response event
type commandResponseData struct {
	CommandID   string      `json:"command_id"`
	Response    interface{} `json:"response"`
	Result      interface{} `json:"result"`
	Chunked     bool        `json:"chunked"`
	ChunkIndex  *int        `json:"chunk_index"`
	TotalChunks *int        `json:"total_chunks"`
}

// pingData is the payload of the ping event
type pingData struct {
	AgentID    string `json:"agent_id"`
	IdentityID int    `json:"identity_id"`
}

// Handlers holds the Socket.IO event handlers and their collaborators
type Handlers struct {
	identities *identity.Service
	registry   *registry.Registry
	store      *relay.Store
	limiter    *ratelimit.Limiter
	rates      config.RateConfig
	logger     *logrus.Entry
}

// NewHandlers creates the relay event handlers
func NewHandlers(identities *identity.Service, reg *registry.Registry, store *relay.Store, limiter *ratelimit.Limiter, rates config.RateConfig, logger *logrus.Entry) *Handlers {
	return &Handlers{
		identities: identities,
		registry:   reg,
		store:      store,
		limiter:    limiter,
		rates:      rates,
		logger:     logger.WithField("component", "ws-handlers"),
	}
}

// HandleRegisterServer binds an agent connection to the identity owning the
// presented auth token. Registration never silently creates an anonymous
// agent; a bad credential gets a registration_failed event.
func (h *Handlers) HandleRegisterServer(s socketio.Conn, data interface{}) {
	var req registerServerData
	if err := decodeEvent(data, &req); err != nil {
		s.Emit("registration_failed", map[string]interface{}{"error": "malformed payload"})
		return
	}

	remoteIP := remoteIP(s)
	if !h.limiter.Allow("register:"+remoteIP, h.rates.Registration.MaxRequests, time.Duration(h.rates.Registration.WindowSec)*time.Second) {
		s.Emit("registration_failed", map[string]interface{}{"error": "rate limited"})
		return
	}

	ident, err := h.identities.ByAuthToken(req.AuthToken)
	if err != nil {
		h.logger.WithField("remote_ip", remoteIP).Warnf("Registration rejected: %v", err)
		s.Emit("registration_failed", map[string]interface{}{"error": "invalid auth token"})
		return
	}

	rec := h.registry.Register(ident.ID, req.AuthToken, req.AgentID, req.Name, s, remoteIP)

	// Durable enrollment record; failure must not break the live registration
	meta, _ := json.Marshal(map[string]interface{}{"transport": "socketio"})
	if err := h.identities.RecordEnrollment(&model.AgentEnrollment{
		IdentityID:       ident.ID,
		AgentID:          rec.AgentID,
		Name:             rec.Name,
		LastIP:           remoteIP,
		LastRegisteredAt: rec.ConnectedAt,
		Metadata:         datatypes.JSON(meta),
	}); err != nil {
		h.logger.Warnf("Failed to record enrollment for agent %s: %v", rec.AgentID, err)
	}

	s.Emit("registration_success", map[string]interface{}{
		"agent_id": rec.AgentID,
	})
}

// HandleAuthenticateUser authenticates a caller connection by durable auth
// token or by username/password (which rotates the auth token).
func (h *Handlers) HandleAuthenticateUser(s socketio.Conn, data interface{}) {
	var req authenticateUserData
	if err := decodeEvent(data, &req); err != nil {
		s.Emit("authentication_failed", map[string]interface{}{"error": "malformed payload"})
		return
	}

	if !h.limiter.Allow("auth:"+remoteIP(s), h.rates.Authentication.MaxRequests, time.Duration(h.rates.Authentication.WindowSec)*time.Second) {
		s.Emit("authentication_failed", map[string]interface{}{"error": "rate limited"})
		return
	}

	var ident *model.Identity
	var err error
	if req.AuthToken != "" {
		ident, err = h.identities.ByAuthToken(req.AuthToken)
		if err == nil && req.IdentityID != 0 && ident.ID != req.IdentityID {
			err = identity.ErrInvalidCredentials
		}
	} else {
		ident, err = h.identities.Login(req.Username, req.Password)
	}
	if err != nil {
		s.Emit("authentication_failed", map[string]interface{}{"error": "invalid credentials"})
		return
	}

	s.Emit("authentication_success", map[string]interface{}{
		"identity_id": ident.ID,
		"auth_token":  ident.AuthToken,
	})
}

// HandleCommandResponse accepts a result push from a registered agent and
// feeds it into the correlation table, chunked or whole.
func (h *Handlers) HandleCommandResponse(s socketio.Conn, data interface{}) {
	if !h.limiter.Allow("msg:"+s.ID(), h.rates.Messaging.MaxRequests, time.Duration(h.rates.Messaging.WindowSec)*time.Second) {
		h.logger.WithField("conn", s.ID()).Warn("command_response rate limited")
		return
	}

	var req commandResponseData
	if err := decodeEvent(data, &req); err != nil {
		h.logger.Warnf("Malformed command_response from %s: %v", s.ID(), err)
		return
	}
	if req.CommandID == "" {
		return
	}

	agentID, ok := h.registry.AgentIDForConn(s.ID())
	if !ok {
		h.logger.WithField("conn", s.ID()).Warn("command_response from unregistered connection")
		return
	}

	// Only the agent the command was dispatched to may complete it
	owner, ok := h.store.Owner(req.CommandID)
	if !ok || owner != agentID {
		h.logger.WithFields(logrus.Fields{
			"command_id": req.CommandID,
			"agent_id":   agentID,
		}).Warn("command_response for foreign or unknown command id")
		return
	}

	h.registry.Touch(agentID)

	payload := req.Response
	if payload == nil {
		payload = req.Result
	}

	var err error
	if req.Chunked && req.ChunkIndex != nil && req.TotalChunks != nil {
		fragment, ok := payload.(string)
		if !ok {
			// Counting a coerced empty fragment would corrupt the assembly
			h.logger.WithField("command_id", req.CommandID).Warn("Chunked command_response payload is not a string")
			return
		}
		err = h.store.SubmitChunk(req.CommandID, fragment, *req.ChunkIndex, *req.TotalChunks)
	} else {
		var raw json.RawMessage
		raw, err = json.Marshal(payload)
		if err == nil {
			err = h.store.SubmitResult(req.CommandID, raw)
		}
	}
	if err != nil {
		h.logger.WithField("command_id", req.CommandID).Warnf("Result push rejected: %v", err)
	}
}

// HandlePing answers liveness probes and refreshes the agent's last-seen
func (h *Handlers) HandlePing(s socketio.Conn, data interface{}) {
	if !h.limiter.Allow("msg:"+s.ID(), h.rates.Messaging.MaxRequests, time.Duration(h.rates.Messaging.WindowSec)*time.Second) {
		return
	}

	var req pingData
	_ = decodeEvent(data, &req)

	agentID := req.AgentID
	if agentID == "" {
		agentID, _ = h.registry.AgentIDForConn(s.ID())
	}
	if agentID != "" {
		h.registry.Touch(agentID)
	}

	s.Emit("pong", map[string]interface{}{
		"timestamp": time.Now().Unix(),
	})
}

// HandleDisconnect drops the agent record bound to a closing connection
func (h *Handlers) HandleDisconnect(s socketio.Conn) {
	h.registry.Unregister(s.ID())
}

// decodeEvent converts a loosely-typed event payload into its struct form
func decodeEvent(data interface{}, v interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// remoteIP extracts the client host without the ephemeral source port, so
// per-IP rate limits aggregate across connections from the same host.
func remoteIP(s socketio.Conn) string {
	addr := s.RemoteAddr()
	if addr == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
