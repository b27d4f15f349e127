package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenerateMonthly computes and writes invoices for every eligible client of
// the period. Each client runs in its own transaction spanning the
// idempotency scan and the write, so two concurrent runs cannot both bill
// the same object, and one client's failure never rolls back another's
// invoice.
func (s *Service) GenerateMonthly(ctx context.Context, req billingdomain.GenerateRequest) ([]billingdomain.Invoice, error) {
	if req.Month < 1 || req.Month > 12 {
		return nil, billingdomain.ErrInvalidMonth
	}
	if req.Year < 2000 || req.Year > 2100 {
		return nil, billingdomain.ErrInvalidYear
	}

	if s.runLock != nil {
		key := fmt.Sprintf("fleetbill:generate:%d-%02d", req.Year, req.Month)
		ttl := time.Duration(s.policy.Current().RunLockTTLSeconds) * time.Second
		token, ok, err := s.runLock.TryLock(ctx, key, ttl)
		switch {
		case err != nil:
			// The engine is transactionally safe without the fence.
			s.log.Warn("run lock unavailable, proceeding unguarded", zap.Error(err))
		case !ok:
			return nil, billingdomain.ErrGenerationInProgress
		default:
			defer func() {
				if err := s.runLock.Release(ctx, key, token); err != nil {
					s.log.Warn("failed to release run lock", zap.String("key", key), zap.Error(err))
				}
			}()
		}
	}

	clients, err := s.enumerateClients(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	created := make([]billingdomain.Invoice, 0, len(clients))
	for _, clientID := range clients {
		invoice, billedObjects, err := s.generateForClient(ctx, clientID, req.Month, req.Year)
		if err != nil {
			s.obsMetrics.IncGenerationFailure(ctx)
			s.log.Error("invoice generation failed for client",
				zap.String("client_id", clientID.String()),
				zap.Int("month", req.Month),
				zap.Int("year", req.Year),
				zap.Error(err),
			)
			continue
		}
		if invoice == nil {
			continue
		}

		if err := s.clientSvc.ClearPaymentRequiredMarkers(ctx, billedObjects, req.Month, req.Year); err != nil {
			s.log.Warn("failed to clear payment markers",
				zap.String("invoice_number", invoice.InvoiceNumber),
				zap.Error(err),
			)
		}

		s.obsMetrics.IncInvoicesGenerated(ctx)
		s.emitAudit(ctx, "invoice.generated", invoice, map[string]any{
			"requested_by": req.RequestedBy,
		})
		created = append(created, *invoice)
	}

	return created, nil
}

func (s *Service) enumerateClients(ctx context.Context, clientID *snowflake.ID) ([]snowflake.ID, error) {
	if clientID != nil {
		if *clientID == 0 {
			return nil, billingdomain.ErrInvalidClientID
		}
		var found snowflake.ID
		if err := s.db.WithContext(ctx).Raw(
			`SELECT id FROM clients WHERE id = ?`, *clientID,
		).Scan(&found).Error; err != nil {
			return nil, err
		}
		if found == 0 {
			return nil, billingdomain.ErrInvalidClientID
		}
		return []snowflake.ID{found}, nil
	}

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT c.id
		 FROM clients c
		 JOIN client_services cs ON cs.client_id = c.id
		 JOIN services sv ON sv.id = cs.service_id
		 WHERE c.status = ?
		   AND cs.status = ?
		   AND (cs.end_date IS NULL OR cs.end_date > ?)
		   AND sv.service_type = ?
		 ORDER BY c.id`,
		clientdomain.ClientStatusActive,
		catalogdomain.AssignmentStatusActive,
		time.Now().UTC(),
		catalogdomain.ServiceTypeObjectBased,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) generateForClient(ctx context.Context, clientID snowflake.ID, month, year int) (*billingdomain.Invoice, []snowflake.ID, error) {
	var created *billingdomain.Invoice
	var billedObjects []snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, total, err := s.computeClient(ctx, tx, clientID, month, year)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		invoice, err := s.writeInvoice(ctx, tx, clientID, month, year, items, total)
		if err != nil {
			return err
		}
		created = invoice

		for _, item := range items {
			for _, charge := range item.Metadata.Objects {
				billedObjects = append(billedObjects, charge.ObjectID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, billedObjects, nil
}

// computeClient builds the line items for one client and period: a debt
// carry-forward item first, then one item per active service assignment.
// Every read, resolver queries included, runs on the caller's transaction so
// the computation and the invoice write see one snapshot.
func (s *Service) computeClient(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, month, year int) ([]billingdomain.LineItem, float64, error) {
	resolver := s.resolver.WithTrx(tx)

	billed, hasInvoice, err := s.objectsAlreadyBilled(ctx, tx, clientID, month, year)
	if err != nil {
		return nil, 0, err
	}

	var items []billingdomain.LineItem
	var total float64

	now := time.Now().UTC()
	periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	// Fixed fees and debt carry-forward belong to the first invoice of the
	// period. A re-run against an existing invoice only picks up objects
	// not yet covered.
	// Reminders about old debt also make no sense on invoices issued ahead
	// of time, so future periods skip the aggregation.
	if !hasInvoice && !periodStart.After(now) {
		debt, err := s.collectUnpaidInvoices(ctx, tx, clientID, month, year)
		if err != nil {
			return nil, 0, err
		}
		if len(debt) > 0 {
			var sum float64
			for _, entry := range debt {
				sum += entry.Amount
			}
			items = append(items, billingdomain.LineItem{
				Description: "Carried forward debt",
				Quantity:    1,
				UnitPrice:   sum,
				TotalPrice:  sum,
				Metadata:    billingdomain.ItemMetadata{UnpaidInvoices: debt},
			})
			total += sum
		}
	}

	assignments, err := s.listActiveAssignments(ctx, tx, clientID, now)
	if err != nil {
		return nil, 0, err
	}

	for _, assignment := range assignments {
		switch assignment.ServiceType {
		case catalogdomain.ServiceTypeFixed:
			if hasInvoice {
				continue
			}
			if assignment.FixedPrice == nil {
				s.log.Warn("skipping fixed service without price",
					zap.String("service_id", assignment.ServiceID.String()),
				)
				continue
			}
			price, err := strconv.ParseFloat(strings.TrimSpace(*assignment.FixedPrice), 64)
			if err != nil {
				s.log.Warn("skipping fixed service with malformed price",
					zap.String("service_id", assignment.ServiceID.String()),
					zap.String("price", *assignment.FixedPrice),
				)
				continue
			}
			serviceID := assignment.ServiceID
			items = append(items, billingdomain.LineItem{
				ServiceID:   &serviceID,
				Description: assignment.ServiceName,
				Quantity:    1,
				UnitPrice:   price,
				TotalPrice:  price,
			})
			total += price

		case catalogdomain.ServiceTypeObjectBased:
			objects, err := s.listActiveObjects(ctx, tx, clientID)
			if err != nil {
				return nil, 0, err
			}

			var charges []billingdomain.ObjectCharge
			var sum float64
			for _, objectID := range objects {
				if billed[objectID] {
					continue
				}
				paid, err := resolver.IsPeriodPaid(ctx, objectID, year, month)
				if err != nil {
					s.logObjectSkip(objectID, "is_period_paid failed", err)
					continue
				}
				if paid {
					continue
				}
				charge, err := resolver.ShouldChargeForMonth(ctx, objectID, clientID, year, month)
				if err != nil {
					s.logObjectSkip(objectID, "should_charge_for_month failed", err)
					continue
				}
				if !charge {
					continue
				}
				ref, err := resolver.ResolveLatestTariff(ctx, objectID, year, month)
				if err != nil {
					s.logObjectSkip(objectID, "tariff resolution failed", err)
					continue
				}
				charges = append(charges, billingdomain.ObjectCharge{
					ObjectID: objectID,
					TariffID: ref.TariffID,
					Price:    ref.Price,
				})
				sum += ref.Price
			}

			if len(charges) == 0 || sum == 0 {
				continue
			}
			serviceID := assignment.ServiceID
			items = append(items, billingdomain.LineItem{
				ServiceID:   &serviceID,
				Description: fmt.Sprintf("%s (%d objects)", assignment.ServiceName, len(charges)),
				Quantity:    1,
				UnitPrice:   sum,
				TotalPrice:  sum,
				Metadata:    billingdomain.ItemMetadata{Objects: charges},
			})
			total += sum
		}
	}

	return items, total, nil
}

// writeInvoice persists the invoice header and items in the caller's
// transaction; either everything lands or nothing does.
func (s *Service) writeInvoice(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, month, year int, items []billingdomain.LineItem, total float64) (*billingdomain.Invoice, error) {
	number, err := s.allocateInvoiceNumber(ctx, tx, year)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	invoice := billingdomain.Invoice{
		ID:            s.genID.Generate(),
		ClientID:      clientID,
		InvoiceNumber: number,
		InvoiceDate:   now,
		BillingMonth:  month,
		BillingYear:   year,
		TotalAmount:   total,
		Status:        billingdomain.InvoiceStatusIssued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, client_id, invoice_number, invoice_date, billing_month, billing_year,
			total_amount, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.ClientID,
		invoice.InvoiceNumber,
		invoice.InvoiceDate,
		invoice.BillingMonth,
		invoice.BillingYear,
		invoice.TotalAmount,
		invoice.Status,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error; err != nil {
		return nil, err
	}

	for _, item := range items {
		metadata, err := item.Metadata.ToJSON()
		if err != nil {
			return nil, err
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (
				id, invoice_id, service_id, description, quantity, unit_price, total_price, metadata, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			invoice.ID,
			item.ServiceID,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.TotalPrice,
			metadata,
			now,
		).Error; err != nil {
			return nil, err
		}
	}

	return &invoice, nil
}

// objectsAlreadyBilled is the idempotency scan: every object mentioned in
// the metadata of a non-cancelled invoice for this client and period is
// excluded from the current run. It also reports whether any non-cancelled
// invoice exists for the period at all.
func (s *Service) objectsAlreadyBilled(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, month, year int) (map[snowflake.ID]bool, bool, error) {
	var invoiceCount int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices
		 WHERE client_id = ? AND billing_month = ? AND billing_year = ? AND status <> ?`,
		clientID,
		month,
		year,
		billingdomain.InvoiceStatusCancelled,
	).Scan(&invoiceCount).Error; err != nil {
		return nil, false, err
	}

	var rows []struct {
		ID       snowflake.ID
		Metadata datatypes.JSON
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT ii.id, ii.metadata
		 FROM invoice_items ii
		 JOIN invoices i ON i.id = ii.invoice_id
		 WHERE i.client_id = ?
		   AND i.billing_month = ?
		   AND i.billing_year = ?
		   AND i.status <> ?
		   AND ii.metadata IS NOT NULL`,
		clientID,
		month,
		year,
		billingdomain.InvoiceStatusCancelled,
	).Scan(&rows).Error
	if err != nil {
		return nil, false, err
	}

	billed := make(map[snowflake.ID]bool)
	for _, row := range rows {
		meta, err := billingdomain.ParseItemMetadata(row.Metadata)
		if err != nil {
			s.log.Warn("skipping invoice item with malformed metadata",
				zap.String("invoice_item_id", row.ID.String()),
				zap.Error(err),
			)
			continue
		}
		for _, charge := range meta.Objects {
			billed[charge.ObjectID] = true
		}
	}
	return billed, invoiceCount > 0, nil
}

// collectUnpaidInvoices lists the client's issued invoices strictly before
// the target period. The old invoices are left untouched; settlement
// happens in MarkPaid.
func (s *Service) collectUnpaidInvoices(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, month, year int) ([]billingdomain.DebtEntry, error) {
	var rows []struct {
		ID           snowflake.ID
		BillingMonth int
		BillingYear  int
		TotalAmount  float64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, billing_month, billing_year, total_amount
		 FROM invoices
		 WHERE client_id = ?
		   AND status = ?
		   AND (billing_year < ? OR (billing_year = ? AND billing_month < ?))
		 ORDER BY billing_year, billing_month`,
		clientID,
		billingdomain.InvoiceStatusIssued,
		year,
		year,
		month,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]billingdomain.DebtEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, billingdomain.DebtEntry{
			InvoiceID:    row.ID,
			BillingMonth: row.BillingMonth,
			BillingYear:  row.BillingYear,
			Amount:       row.TotalAmount,
		})
	}
	return entries, nil
}

func (s *Service) listActiveAssignments(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, at time.Time) ([]catalogdomain.ActiveAssignment, error) {
	var assignments []catalogdomain.ActiveAssignment
	err := tx.WithContext(ctx).Raw(
		`SELECT cs.id AS assignment_id, sv.id AS service_id, sv.name AS service_name,
		        sv.service_type, sv.fixed_price
		 FROM client_services cs
		 JOIN services sv ON sv.id = cs.service_id
		 WHERE cs.client_id = ?
		   AND cs.status = ?
		   AND cs.start_date <= ?
		   AND (cs.end_date IS NULL OR cs.end_date > ?)
		 ORDER BY sv.name`,
		clientID,
		catalogdomain.AssignmentStatusActive,
		at,
		at,
	).Scan(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Service) listActiveObjects(ctx context.Context, tx *gorm.DB, clientID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM tracked_objects
		 WHERE client_id = ? AND status = ?
		 ORDER BY id`,
		clientID,
		clientdomain.ObjectStatusActive,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) logObjectSkip(objectID snowflake.ID, reason string, err error) {
	s.log.Warn("skipping object",
		zap.String("object_id", objectID.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *billingdomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	values := map[string]any{
		"client_id":      invoice.ClientID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"billing_month":  invoice.BillingMonth,
		"billing_year":   invoice.BillingYear,
		"total_amount":   invoice.TotalAmount,
		"status":         string(invoice.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		values[key] = value
	}

	entityID := invoice.ID.String()
	s.auditSvc.Log(ctx, auditdomain.Entry{
		Action:     action,
		EntityType: "invoice",
		EntityID:   &entityID,
		NewValues:  values,
	})
}
