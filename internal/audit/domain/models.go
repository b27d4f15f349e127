// Package domain contains the audit trail models and sink contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorTypeStaff  ActorType = "staff"
	ActorTypeClient ActorType = "client"
	ActorTypeSystem ActorType = "system"
)

// AuditLog is one audit trail record.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	EntityType string            `gorm:"type:text;not null;index"`
	EntityID   *string           `gorm:"type:text;index"`
	OldValues  datatypes.JSONMap `gorm:"type:jsonb"`
	NewValues  datatypes.JSONMap `gorm:"type:jsonb"`
	IPAddress  *string           `gorm:"type:text"`
	UserAgent  *string           `gorm:"type:text"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Entry is the write contract consumed by every service. The sink is
// best-effort: implementations log failures and never propagate them into
// the calling transaction.
type Entry struct {
	ActorType  string
	ActorID    *string
	Action     string
	EntityType string
	EntityID   *string
	OldValues  map[string]any
	NewValues  map[string]any
}

type Service interface {
	Log(ctx context.Context, entry Entry)
}

var ErrInvalidAction = errors.New("invalid_action")
