package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkPaid settles an issued invoice in one transaction: it records the
// payment, writes a per-object settlement record for every object charge on
// the invoice, and cascades through carried-forward debt lines, settling
// each referenced historical invoice the same way. A missing historical
// invoice aborts the whole transition.
func (s *Service) MarkPaid(ctx context.Context, req billingdomain.MarkPaidRequest) (billingdomain.Invoice, error) {
	if req.InvoiceID == 0 {
		return billingdomain.Invoice{}, billingdomain.ErrInvalidInvoiceID
	}

	var updated billingdomain.Invoice
	var settledInvoices []snowflake.ID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return billingdomain.ErrInvoiceNotFound
		}
		if invoice.Status != billingdomain.InvoiceStatusIssued {
			return billingdomain.ErrInvoiceNotIssued
		}

		paymentDate := req.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = time.Now().UTC()
		}
		amount := invoice.TotalAmount
		if req.Amount != nil {
			amount = *req.Amount
		}

		var createdBy *string
		if req.PaidBy != "" {
			paidBy := req.PaidBy
			createdBy = &paidBy
		}
		payment := billingdomain.Payment{
			ID:           s.genID.Generate(),
			ClientID:     invoice.ClientID,
			Amount:       amount,
			PaymentDate:  paymentDate,
			PaymentMonth: invoice.BillingMonth,
			PaymentYear:  invoice.BillingYear,
			PaymentType:  billingdomain.PaymentTypeInvoice,
			Notes:        req.Notes,
			CreatedBy:    createdBy,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
			return err
		}

		items, err := s.loadItems(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}

		for _, item := range items {
			meta, err := billingdomain.ParseItemMetadata(item.Metadata)
			if err != nil {
				s.log.Warn("skipping invoice item with malformed metadata",
					zap.String("invoice_item_id", item.ID.String()),
					zap.Error(err),
				)
				continue
			}

			if meta.IsObjectBased() {
				if err := s.settleObjects(ctx, tx, payment.ID, meta.Objects, invoice.BillingMonth, invoice.BillingYear); err != nil {
					return err
				}
			}

			for _, entry := range meta.UnpaidInvoices {
				settled, err := s.settleHistoricalInvoice(ctx, tx, payment.ID, entry.InvoiceID)
				if err != nil {
					return err
				}
				if settled {
					settledInvoices = append(settledInvoices, entry.InvoiceID)
				}
			}
		}

		if err := s.transitionToPaid(ctx, tx, invoice.ID, payment.ID, req.Notes); err != nil {
			return err
		}

		updated = *invoice
		updated.Status = billingdomain.InvoiceStatusPaid
		paymentID := payment.ID
		updated.PaymentID = &paymentID
		if req.Notes != nil {
			updated.Notes = req.Notes
		}
		return nil
	})
	if err != nil {
		return billingdomain.Invoice{}, err
	}

	s.obsMetrics.IncPaymentsReconciled(ctx)
	extra := map[string]any{"paid_by": req.PaidBy}
	if len(settledInvoices) > 0 {
		cascade := make([]string, 0, len(settledInvoices))
		for _, id := range settledInvoices {
			cascade = append(cascade, id.String())
		}
		extra["settled_invoice_ids"] = cascade
	}
	s.emitAudit(ctx, "invoice.paid", &updated, extra)

	return updated, nil
}

// lockInvoice reads the invoice for update so two concurrent MarkPaid calls
// on the same invoice serialize and the loser sees the paid status.
func (s *Service) lockInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (*billingdomain.Invoice, error) {
	query := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var invoices []billingdomain.Invoice
	if err := query.Where(&billingdomain.Invoice{ID: invoiceID}).Limit(1).Find(&invoices).Error; err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

func (s *Service) loadItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]billingdomain.InvoiceItem, error) {
	var items []billingdomain.InvoiceItem
	err := tx.WithContext(ctx).Raw(
		`SELECT id, invoice_id, service_id, description, quantity, unit_price, total_price, metadata, created_at
		 FROM invoice_items
		 WHERE invoice_id = ?
		 ORDER BY id`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// settleObjects writes one settlement record per object charge. The unique
// index on (object, month, year) plus DO NOTHING makes replays harmless.
func (s *Service) settleObjects(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID, charges []billingdomain.ObjectCharge, month, year int) error {
	for _, charge := range charges {
		record := billingdomain.ObjectPaymentRecord{
			ID:           s.genID.Generate(),
			ObjectID:     charge.ObjectID,
			PaymentID:    paymentID,
			TariffID:     charge.TariffID,
			Amount:       charge.Price,
			BillingMonth: month,
			BillingYear:  year,
			Status:       "paid",
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}

// settleHistoricalInvoice resolves one debt entry: the referenced invoice
// gets its own settlement records at its original period and flips to paid.
// Already-paid invoices are skipped; a vanished one fails the transaction,
// the debt line referenced something that must exist.
func (s *Service) settleHistoricalInvoice(ctx context.Context, tx *gorm.DB, paymentID, invoiceID snowflake.ID) (bool, error) {
	historical, err := s.lockInvoice(ctx, tx, invoiceID)
	if err != nil {
		return false, err
	}
	if historical == nil {
		return false, billingdomain.ErrInvoiceNotFound
	}
	if historical.Status == billingdomain.InvoiceStatusPaid {
		return false, nil
	}

	items, err := s.loadItems(ctx, tx, historical.ID)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		meta, err := billingdomain.ParseItemMetadata(item.Metadata)
		if err != nil {
			s.log.Warn("skipping invoice item with malformed metadata",
				zap.String("invoice_item_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !meta.IsObjectBased() {
			continue
		}
		if err := s.settleObjects(ctx, tx, paymentID, meta.Objects, historical.BillingMonth, historical.BillingYear); err != nil {
			return false, err
		}
	}

	if err := s.transitionToPaid(ctx, tx, historical.ID, paymentID, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) transitionToPaid(ctx context.Context, tx *gorm.DB, invoiceID, paymentID snowflake.ID, notes *string) error {
	updates := map[string]any{
		"status":     billingdomain.InvoiceStatusPaid,
		"payment_id": paymentID,
		"updated_at": time.Now().UTC(),
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	return tx.WithContext(ctx).
		Model(&billingdomain.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(updates).Error
}
