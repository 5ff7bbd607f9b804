package identity

import (
	"errors"
	"fmt"

	"go_relay/internal/auth"
	"go_relay/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service errors
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("identity is inactive")
	ErrNotFound           = errors.New("identity not found")
)

// Service manages durable accounts and their rotating auth tokens
type Service struct {
	db *gorm.DB
}

// NewService creates an identity service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Signup creates a new identity with a hashed password and a fresh auth token
func (s *Service) Signup(username, password string) (*model.Identity, error) {
	var existing model.Identity
	err := s.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	ident := &model.Identity{
		Username:     username,
		PasswordHash: hash,
		AuthToken:    newAuthToken(),
		Status:       model.IdentityStatusActive,
	}
	if err := s.db.Create(ident).Error; err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return ident, nil
}

// Login verifies credentials and rotates the durable auth token
func (s *Service) Login(username, password string) (*model.Identity, error) {
	var ident model.Identity
	if err := s.db.Where("username = ?", username).First(&ident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Same error as wrong password so usernames cannot be probed
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}

	if ident.Status == model.IdentityStatusInactive {
		return nil, ErrInactive
	}

	if err := auth.ComparePassword(ident.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	// Token rotation on login
	ident.AuthToken = newAuthToken()
	if err := s.db.Model(&ident).Update("auth_token", ident.AuthToken).Error; err != nil {
		return nil, fmt.Errorf("failed to rotate auth token: %w", err)
	}
	return &ident, nil
}

// RotateToken regenerates an identity's auth token on explicit request
func (s *Service) RotateToken(identityID int) (string, error) {
	var ident model.Identity
	if err := s.db.First(&ident, identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to query identity: %w", err)
	}

	token := newAuthToken()
	if err := s.db.Model(&ident).Update("auth_token", token).Error; err != nil {
		return "", fmt.Errorf("failed to rotate auth token: %w", err)
	}
	return token, nil
}

// ByAuthToken resolves an identity from its durable auth token. Used to bind
// agent registrations and to authenticate socket events.
func (s *Service) ByAuthToken(token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}

	var ident model.Identity
	if err := s.db.Where("auth_token = ?", token).First(&ident).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}

	if ident.Status == model.IdentityStatusInactive {
		return nil, ErrInactive
	}
	return &ident, nil
}

// ByID looks up an identity by primary key
func (s *Service) ByID(identityID int) (*model.Identity, error) {
	var ident model.Identity
	if err := s.db.First(&ident, identityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query identity: %w", err)
	}
	return &ident, nil
}

// RecordEnrollment upserts the durable enrollment row for an agent
func (s *Service) RecordEnrollment(e *model.AgentEnrollment) error {
	var existing model.AgentEnrollment
	err := s.db.Where("agent_id = ?", e.AgentID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(e).Error
	}
	if err != nil {
		return fmt.Errorf("failed to query enrollment: %w", err)
	}

	return s.db.Model(&existing).Updates(map[string]interface{}{
		"identity_id":        e.IdentityID,
		"name":               e.Name,
		"last_ip":            e.LastIP,
		"last_registered_at": e.LastRegisteredAt,
		"metadata":           e.Metadata,
	}).Error
}

func newAuthToken() string {
	return uuid.NewString()
}
