// Package domain contains persistence models for clients and their tracked objects.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ClientStatus represents client lifecycle states.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
)

// Client is a billed customer of the tracking service.
type Client struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Status    ClientStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// ObjectStatus represents tracked object lifecycle states.
type ObjectStatus string

const (
	ObjectStatusActive   ObjectStatus = "active"
	ObjectStatusInactive ObjectStatus = "inactive"
)

// TrackedObject is a GPS tracker owned by a client.
type TrackedObject struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ClientID  snowflake.ID `gorm:"not null;index" json:"client_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Status    ObjectStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (TrackedObject) TableName() string { return "tracked_objects" }

// ObjectAttribute is a loosely-typed marker on a tracked object. The billing
// engine only ever consumes the payment_required_month marker.
type ObjectAttribute struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ObjectID  snowflake.ID `gorm:"not null;index" json:"object_id"`
	Name      string       `gorm:"type:text;not null;index" json:"name"`
	Value     string       `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ObjectAttribute) TableName() string { return "object_attributes" }

// AttrPaymentRequiredMonth marks an object as awaiting invoicing for a
// period; cleared once the invoice covering that period is written.
const AttrPaymentRequiredMonth = "payment_required_month"

type Service interface {
	List(ctx context.Context, status *ClientStatus) ([]Client, error)
	GetByID(ctx context.Context, id string) (Client, error)
	ListActiveObjects(ctx context.Context, clientID snowflake.ID) ([]TrackedObject, error)
	ClearPaymentRequiredMarkers(ctx context.Context, objectIDs []snowflake.ID, month, year int) error
}

var (
	ErrInvalidClientID = errors.New("invalid_client_id")
	ErrClientNotFound  = errors.New("client_not_found")
)
