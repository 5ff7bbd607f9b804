package command

import (
	"errors"

	"go_relay/internal/httpx"
	"go_relay/internal/model"
	"go_relay/internal/relay"

	"github.com/gin-gonic/gin"
)

// RelayContextHeader carries opaque end-to-end data the relay never inspects
const RelayContextHeader = "X-Relay-Context"

// IdentityResolver looks up the caller's identity record. The command
// handlers need it for the durable auth token used by the union agent lookup.
type IdentityResolver interface {
	ByID(identityID int) (*model.Identity, error)
}

// DispatchRequest represents the POST /command body
type DispatchRequest struct {
	Command string `json:"command" binding:"required"`
	Method  string `json:"method"`
	Body    string `json:"body"`
}

// DispatchResponse represents the POST /command response data
type DispatchResponse struct {
	CommandIDs []string              `json:"command_ids"`
	Results    []relay.DispatchEntry `json:"results"`
}

// Handler serves command dispatch and result polling
type Handler struct {
	dispatcher *relay.Dispatcher
	store      *relay.Store
	identities IdentityResolver
}

// NewHandler creates a command handler
func NewHandler(dispatcher *relay.Dispatcher, store *relay.Store, identities IdentityResolver) *Handler {
	return &Handler{dispatcher: dispatcher, store: store, identities: identities}
}

// Dispatch fans the command out to every agent the caller owns and returns
// one correlation id per agent. Fire-and-forget: results arrive via polling.
func (h *Handler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}
	if req.Method == "" {
		req.Method = "GET"
	}

	uid := c.GetInt("uid")
	ident, err := h.identities.ByID(uid)
	if err != nil {
		httpx.FailErr(c, httpx.ErrUnauthorized("unknown identity"))
		return
	}

	entries, err := h.dispatcher.DispatchToAll(uid, ident.AuthToken, relay.CommandRequest{
		Command: req.Command,
		Method:  req.Method,
		Body:    req.Body,
		Context: c.GetHeader(RelayContextHeader),
	})
	if err != nil {
		if errors.Is(err, relay.ErrNoAgents) {
			httpx.FailErr(c, httpx.ErrNoAgents(""))
			return
		}
		httpx.FailErr(c, httpx.ErrInternalError("failed to dispatch command", err))
		return
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.CommandID)
	}

	httpx.OK(c, DispatchResponse{
		CommandIDs: ids,
		Results:    entries,
	})
}

// Poll returns the current state of one or more command ids. Reading is free
// of side effects, so callers may poll indefinitely.
func (h *Handler) Poll(c *gin.Context) {
	ids := c.QueryArray("command_id")
	if len(ids) == 0 {
		httpx.FailErr(c, httpx.ErrParamMissing("command_id is required"))
		return
	}

	uid := c.GetInt("uid")
	responses := make(map[string]*relay.ResultView, len(ids))
	for _, id := range ids {
		view, err := h.store.Get(id, uid)
		if err != nil {
			if errors.Is(err, relay.ErrNotOwner) {
				// Foreign command ids fail the whole poll
				httpx.FailErr(c, httpx.ErrForbidden("command belongs to another identity"))
				return
			}
			responses[id] = &relay.ResultView{Status: relay.StatusError, Error: "not found"}
			continue
		}
		responses[id] = view
	}

	httpx.OK(c, gin.H{"responses": responses})
}
