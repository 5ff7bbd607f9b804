package agents

import (
	"errors"
	"time"

	"go_relay/internal/httpx"
	"go_relay/internal/registry"

	"github.com/gin-gonic/gin"
)

// AgentListItem represents a live agent in the list response
type AgentListItem struct {
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	RemoteIP    string `json:"remote_ip"`
	ConnectedAt string `json:"connected_at"`
	LastSeen    string `json:"last_seen"`
}

// DisconnectRequest represents the POST /agents/disconnect body
type DisconnectRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// Handler serves the live-agent endpoints
type Handler struct {
	registry *registry.Registry
}

// NewHandler creates an agents handler
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{registry: reg}
}

// List returns the caller's currently connected agents
func (h *Handler) List(c *gin.Context) {
	uid := c.GetInt("uid")

	records := h.registry.FindForIdentity(uid, "")
	items := make([]AgentListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, AgentListItem{
			AgentID:     rec.AgentID,
			Name:        rec.Name,
			RemoteIP:    rec.RemoteIP,
			ConnectedAt: rec.ConnectedAt.Format(time.RFC3339),
			LastSeen:    rec.LastSeen.Format(time.RFC3339),
		})
	}

	httpx.OK(c, gin.H{"agents": items, "total": len(items)})
}

// Disconnect closes one of the caller's agent connections
func (h *Handler) Disconnect(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	uid := c.GetInt("uid")
	if err := h.registry.Disconnect(uid, req.AgentID); err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			httpx.FailErr(c, httpx.ErrNotFound("agent not found"))
		case errors.Is(err, registry.ErrNotOwner):
			httpx.FailErr(c, httpx.ErrForbidden("agent belongs to another identity"))
		default:
			httpx.FailErr(c, httpx.ErrInternalError("failed to disconnect agent", err))
		}
		return
	}

	httpx.OK(c, gin.H{"disconnected": req.AgentID})
}
