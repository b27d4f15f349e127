// Package domain contains tariff definitions and their effective-dated
// assignments to tracked objects.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tariff is a price definition. Price is stored as a decimal string and
// parsed at use; a tariff is immutable once referenced by billing history.
type Tariff struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Price     string       `gorm:"type:numeric;not null" json:"price"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Tariff) TableName() string { return "tariffs" }

// ObjectTariff assigns a tariff to an object over an effective date range.
// Ranges for one object never overlap; the current assignment has a null
// EffectiveTo.
type ObjectTariff struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	ObjectID      snowflake.ID `gorm:"not null;index" json:"object_id"`
	TariffID      snowflake.ID `gorm:"not null;index" json:"tariff_id"`
	EffectiveFrom time.Time    `gorm:"not null" json:"effective_from"`
	EffectiveTo   *time.Time   `gorm:"" json:"effective_to,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ObjectTariff) TableName() string { return "object_tariffs" }

// AssignRequest puts a tariff on an object from EffectiveFrom, closing any
// current assignment at the same instant.
type AssignRequest struct {
	ObjectID      snowflake.ID
	TariffID      snowflake.ID
	EffectiveFrom time.Time
}

type Service interface {
	Assign(ctx context.Context, req AssignRequest) (ObjectTariff, error)
}

var (
	ErrTariffNotFound        = errors.New("tariff_not_found")
	ErrInvalidEffectiveFrom  = errors.New("invalid_effective_from")
	ErrOverlappingAssignment = errors.New("overlapping_tariff_assignment")
)
