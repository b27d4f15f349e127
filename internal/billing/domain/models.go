// Package domain contains persistence models for recurring invoicing and
// payment reconciliation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is a generated invoice for one client and one billing period.
// Created by generation, mutated only by status transition; never
// regenerated for the same (client, period) while a non-cancelled invoice
// exists.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID      snowflake.ID  `gorm:"not null;index" json:"client_id"`
	InvoiceNumber string        `gorm:"type:text;not null;uniqueIndex" json:"invoice_number"`
	InvoiceDate   time.Time     `gorm:"not null" json:"invoice_date"`
	BillingMonth  int           `gorm:"not null;index:ix_invoices_period" json:"billing_month"`
	BillingYear   int           `gorm:"not null;index:ix_invoices_period" json:"billing_year"`
	TotalAmount   float64       `gorm:"type:numeric;not null" json:"total_amount"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'issued';index" json:"status"`
	Notes         *string       `gorm:"type:text" json:"notes,omitempty"`
	PaymentID     *snowflake.ID `gorm:"index" json:"payment_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a line on an invoice. Metadata is the durable record of
// which objects (or which carried-forward invoices) the line covers; the
// idempotency scan on re-runs reads it back.
type InvoiceItem struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID   `gorm:"not null;index" json:"invoice_id"`
	ServiceID   *snowflake.ID  `gorm:"index" json:"service_id,omitempty"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Quantity    int64          `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   float64        `gorm:"type:numeric;not null" json:"unit_price"`
	TotalPrice  float64        `gorm:"type:numeric;not null" json:"total_price"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// Payment records money received from a client.
type Payment struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ClientID     snowflake.ID `gorm:"not null;index" json:"client_id"`
	Amount       float64      `gorm:"type:numeric;not null" json:"amount"`
	PaymentDate  time.Time    `gorm:"not null" json:"payment_date"`
	PaymentMonth int          `gorm:"not null" json:"payment_month"`
	PaymentYear  int          `gorm:"not null" json:"payment_year"`
	PaymentType  string       `gorm:"type:text;not null" json:"payment_type"`
	Notes        *string      `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy    *string      `gorm:"type:text" json:"created_by,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// ObjectPaymentRecord is the ledger entry proving an object's charge for a
// period was settled by a payment. IsPeriodPaid reads this table to prevent
// double-billing.
type ObjectPaymentRecord struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ObjectID     snowflake.ID `gorm:"not null;uniqueIndex:ux_object_period_paid" json:"object_id"`
	PaymentID    snowflake.ID `gorm:"not null;index" json:"payment_id"`
	TariffID     snowflake.ID `gorm:"not null" json:"tariff_id"`
	Amount       float64      `gorm:"type:numeric;not null" json:"amount"`
	BillingMonth int          `gorm:"not null;uniqueIndex:ux_object_period_paid" json:"billing_month"`
	BillingYear  int          `gorm:"not null;uniqueIndex:ux_object_period_paid" json:"billing_year"`
	Status       string       `gorm:"type:text;not null;default:'paid'" json:"status"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ObjectPaymentRecord) TableName() string { return "object_payment_records" }

const PaymentTypeInvoice = "invoice"
