package model

import (
	"time"

	"gorm.io/datatypes"
)

// AgentEnrollment is the durable record of an agent that has registered at
// least once. Live connection state lives in the in-memory registry; this row
// only tracks enrollment history for the owning identity.
type AgentEnrollment struct {
	BaseModel
	IdentityID       int            `gorm:"not null;index" json:"identityId"`
	AgentID          string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"agentId"`
	Name             string         `gorm:"type:varchar(128)" json:"name"`
	LastIP           string         `gorm:"type:varchar(64)" json:"lastIp"`
	LastRegisteredAt time.Time      `gorm:"not null" json:"lastRegisteredAt"`
	Metadata         datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
}

// TableName specifies the table name for AgentEnrollment
func (AgentEnrollment) TableName() string {
	return "agent_enrollments"
}
