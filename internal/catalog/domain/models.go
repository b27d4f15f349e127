// Package domain contains the billable service catalog and client assignments.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ServiceType distinguishes flat-fee services from per-object ones.
type ServiceType string

const (
	ServiceTypeFixed       ServiceType = "fixed"
	ServiceTypeObjectBased ServiceType = "object_based"
)

// BillableService is an immutable service definition. FixedPrice is stored
// as a decimal string and parsed at compute time; a malformed value must
// skip the line item, not abort the invoice.
type BillableService struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Type       ServiceType  `gorm:"column:service_type;type:text;not null" json:"service_type"`
	FixedPrice *string      `gorm:"type:numeric" json:"fixed_price,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (BillableService) TableName() string { return "services" }

// AssignmentStatus represents client service assignment states.
type AssignmentStatus string

const (
	AssignmentStatusActive     AssignmentStatus = "active"
	AssignmentStatusTerminated AssignmentStatus = "terminated"
)

// ClientService subscribes a client to a service from StartDate. Terminated
// assignments keep their row because invoices reference them.
type ClientService struct {
	ID        snowflake.ID     `gorm:"primaryKey" json:"id"`
	ClientID  snowflake.ID     `gorm:"not null;index" json:"client_id"`
	ServiceID snowflake.ID     `gorm:"not null;index" json:"service_id"`
	StartDate time.Time        `gorm:"not null" json:"start_date"`
	EndDate   *time.Time       `gorm:"" json:"end_date,omitempty"`
	Status    AssignmentStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	CreatedAt time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ClientService) TableName() string { return "client_services" }

// ActiveAssignment is an assignment joined with its service definition, as
// consumed by billing computation.
type ActiveAssignment struct {
	AssignmentID snowflake.ID
	ServiceID    snowflake.ID
	ServiceName  string
	ServiceType  ServiceType
	FixedPrice   *string
}

type AssignRequest struct {
	ClientID  snowflake.ID
	ServiceID snowflake.ID
	StartDate time.Time
}

type Service interface {
	Assign(ctx context.Context, req AssignRequest) (ClientService, error)
	Terminate(ctx context.Context, assignmentID string) (ClientService, error)
	DeleteService(ctx context.Context, serviceID string) error
	ListActiveAssignments(ctx context.Context, clientID snowflake.ID, at time.Time) ([]ActiveAssignment, error)
}

var (
	ErrInvalidAssignmentID   = errors.New("invalid_assignment_id")
	ErrInvalidServiceID      = errors.New("invalid_service_id")
	ErrServiceNotFound       = errors.New("service_not_found")
	ErrAssignmentNotFound    = errors.New("assignment_not_found")
	ErrAssignmentNotActive   = errors.New("assignment_not_active")
	ErrServiceStillInvoiced  = errors.New("service_referenced_by_invoices")
	ErrServiceStillAssigned  = errors.New("service_has_active_assignments")
	ErrMissingFixedPrice     = errors.New("fixed_service_requires_price")
	ErrDuplicateAssignment   = errors.New("assignment_already_active")
)
