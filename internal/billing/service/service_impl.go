package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	"github.com/cooprin/fleetbill/internal/config"
	obsmetrics "github.com/cooprin/fleetbill/internal/observability/metrics"
	"github.com/cooprin/fleetbill/internal/runlock"
	"github.com/cooprin/fleetbill/pkg/db/option"
	"github.com/cooprin/fleetbill/pkg/db/pagination"
	"github.com/cooprin/fleetbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Resolver   billingdomain.TariffResolver
	ClientSvc  clientdomain.Service
	AuditSvc   auditdomain.Service
	Policy     *config.BillingPolicyHolder
	RunLock    *runlock.Locker     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	resolver   billingdomain.TariffResolver
	clientSvc  clientdomain.Service
	auditSvc   auditdomain.Service
	policy     *config.BillingPolicyHolder
	runLock    *runlock.Locker
	obsMetrics *obsmetrics.Metrics

	invoicerepo repository.Repository[billingdomain.Invoice]
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		resolver:   p.Resolver,
		clientSvc:  p.ClientSvc,
		auditSvc:   p.AuditSvc,
		policy:     p.Policy,
		runLock:    p.RunLock,
		obsMetrics: p.ObsMetrics,

		invoicerepo: repository.ProvideStore[billingdomain.Invoice](p.DB),
	}
}

func (s *Service) List(ctx context.Context, req billingdomain.ListInvoiceRequest) (billingdomain.ListInvoiceResponse, error) {
	filter := &billingdomain.Invoice{}
	if req.ClientID != nil {
		filter.ClientID = *req.ClientID
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.BillingMonth != nil {
		filter.BillingMonth = *req.BillingMonth
	}
	if req.BillingYear != nil {
		filter.BillingYear = *req.BillingYear
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			Allow:   map[string]bool{"created_at": true},
			Field:   "created_at",
			Desc:    true,
			Default: "created_at",
		}),
		option.WithLimit(int(pageSize) + 1),
	}
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return billingdomain.ListInvoiceResponse{}, billingdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return billingdomain.ListInvoiceResponse{}, billingdomain.ErrInvalidPageToken
		}
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    createdAt,
		}))
	}

	items, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return billingdomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *billingdomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	invoices := make([]billingdomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := billingdomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (billingdomain.InvoiceDetail, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return billingdomain.InvoiceDetail{}, billingdomain.ErrInvalidInvoiceID
	}

	invoice, err := s.invoicerepo.FindOne(ctx, &billingdomain.Invoice{ID: invoiceID})
	if err != nil {
		return billingdomain.InvoiceDetail{}, err
	}
	if invoice == nil {
		return billingdomain.InvoiceDetail{}, billingdomain.ErrInvoiceNotFound
	}

	var items []billingdomain.InvoiceItem
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, service_id, description, quantity, unit_price, total_price, metadata, created_at
		 FROM invoice_items
		 WHERE invoice_id = ?
		 ORDER BY id`,
		invoiceID,
	).Scan(&items).Error; err != nil {
		return billingdomain.InvoiceDetail{}, err
	}

	return billingdomain.InvoiceDetail{Invoice: *invoice, Items: items}, nil
}
