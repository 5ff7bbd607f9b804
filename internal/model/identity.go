package model

// IdentityStatus represents identity status
type IdentityStatus string

const (
	IdentityStatusActive   IdentityStatus = "active"
	IdentityStatusInactive IdentityStatus = "inactive"
)

// Identity represents a durable account. Identities are never hard-deleted;
// deactivation is the only removal path.
type Identity struct {
	BaseModel
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`
	// AuthToken is the rotating capability token agents present when
	// registering. Rotated on login and on explicit regeneration.
	AuthToken string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Status    IdentityStatus `gorm:"type:enum('active','inactive');default:'active'" json:"status"`
}

// TableName specifies the table name for Identity model
func (Identity) TableName() string {
	return "identities"
}
