package auth

import (
	"errors"
	"time"

	"go_relay/internal/auth"
	"go_relay/internal/httpx"
	"go_relay/internal/identity"
	"go_relay/internal/model"

	"github.com/gin-gonic/gin"
)

// CredentialsRequest represents signup and login request bodies
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionResponse represents signup/login response data
type SessionResponse struct {
	Token     string   `json:"token"`
	ExpireAt  string   `json:"expireAt"`
	AuthToken string   `json:"auth_token"`
	User      UserInfo `json:"user"`
}

// UserInfo represents identity information in responses
type UserInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Handler serves the identity-lifecycle endpoints
type Handler struct {
	identities *identity.Service
	sessions   *auth.Sessions
}

// NewHandler creates an auth handler
func NewHandler(identities *identity.Service, sessions *auth.Sessions) *Handler {
	return &Handler{identities: identities, sessions: sessions}
}

// Signup creates an identity and issues its first session token
func (h *Handler) Signup(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	ident, err := h.identities.Signup(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUsernameTaken) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("username already taken"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create identity", err))
		return
	}

	h.respondWithSession(c, ident)
}

// Login verifies credentials, rotates the durable auth token, and issues a
// session token
func (h *Handler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	ident, err := h.identities.Login(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
		case errors.Is(err, identity.ErrInactive):
			httpx.FailErr(c, httpx.ErrForbidden("identity is inactive"))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to log in", err))
		}
		return
	}

	h.respondWithSession(c, ident)
}

// Logout revokes the current session's token id from the Active-Session Set
func (h *Handler) Logout(c *gin.Context) {
	tokenID := c.GetString("token_id")
	if tokenID == "" {
		httpx.FailErr(c, httpx.ErrUnauthorized(""))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), tokenID); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to revoke session", err))
		return
	}

	httpx.OK(c, gin.H{"revoked": true})
}

// RegenerateToken rotates the caller's durable auth token
func (h *Handler) RegenerateToken(c *gin.Context) {
	uid := c.GetInt("uid")

	token, err := h.identities.RotateToken(uid)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("identity not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to rotate token", err))
		return
	}

	httpx.OK(c, gin.H{"auth_token": token})
}

func (h *Handler) respondWithSession(c *gin.Context, ident *model.Identity) {
	token, expireAt, err := h.sessions.Issue(c.Request.Context(), ident.ID, ident.Username)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to issue session token", err))
		return
	}

	httpx.OK(c, SessionResponse{
		Token:     token,
		ExpireAt:  expireAt.Format(time.RFC3339),
		AuthToken: ident.AuthToken,
		User: UserInfo{
			ID:       ident.ID,
			Username: ident.Username,
		},
	})
}
