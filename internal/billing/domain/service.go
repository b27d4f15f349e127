package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cooprin/fleetbill/pkg/db/pagination"
	"gorm.io/gorm"
)

// TariffRef is the authoritative price for an object at month end.
type TariffRef struct {
	TariffID snowflake.ID
	Price    float64
}

// TariffResolver answers per-object pricing and settlement questions. The
// engine treats it as a pure query service; per-object failures skip that
// object, never the client.
//
// Generation calls WithTrx first so the settlement reads run on the same
// transaction as the invoice write. IsPeriodPaid in particular must see the
// snapshot the write will commit against, or a payment landing mid-compute
// could double-bill an already settled object.
type TariffResolver interface {
	WithTrx(tx *gorm.DB) TariffResolver
	ResolveLatestTariff(ctx context.Context, objectID snowflake.ID, year, month int) (TariffRef, error)
	IsPeriodPaid(ctx context.Context, objectID snowflake.ID, year, month int) (bool, error)
	ShouldChargeForMonth(ctx context.Context, objectID, clientID snowflake.ID, year, month int) (bool, error)
}

// LineItem is a computed, not yet persisted, invoice line.
type LineItem struct {
	ServiceID   *snowflake.ID
	Description string
	Quantity    int64
	UnitPrice   float64
	TotalPrice  float64
	Metadata    ItemMetadata
}

// GenerateRequest triggers invoice generation for one period, optionally
// narrowed to a single client.
type GenerateRequest struct {
	Month       int
	Year        int
	ClientID    *snowflake.ID
	RequestedBy string
}

// MarkPaidRequest transitions an issued invoice to paid.
type MarkPaidRequest struct {
	InvoiceID   snowflake.ID
	PaymentDate time.Time
	Amount      *float64
	Notes       *string
	PaidBy      string
}

type ListInvoiceRequest struct {
	pagination.Pagination
	ClientID     *snowflake.ID
	Status       *InvoiceStatus
	BillingMonth *int
	BillingYear  *int
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// InvoiceDetail is an invoice with its items, metadata included, as served
// to display and PDF rendering.
type InvoiceDetail struct {
	Invoice Invoice       `json:"invoice"`
	Items   []InvoiceItem `json:"items"`
}

type Service interface {
	// GenerateMonthly computes and writes invoices for every eligible
	// client (or the one requested). Clients with nothing to bill are
	// omitted, not reported as errors.
	GenerateMonthly(ctx context.Context, req GenerateRequest) ([]Invoice, error)
	// MarkPaid settles an invoice and fans out per-object payment records,
	// cascading through carried-forward debt.
	MarkPaid(ctx context.Context, req MarkPaidRequest) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (InvoiceDetail, error)
}

var (
	ErrInvalidMonth          = errors.New("invalid_month")
	ErrInvalidYear           = errors.New("invalid_year")
	ErrInvalidClientID       = errors.New("invalid_client_id")
	ErrInvalidInvoiceID      = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvoiceNotIssued      = errors.New("invoice_not_issued")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrGenerationInProgress  = errors.New("generation_already_running")
	ErrNoTariffForPeriod     = errors.New("no_tariff_for_period")
	ErrMalformedTariffPrice  = errors.New("malformed_tariff_price")
)
