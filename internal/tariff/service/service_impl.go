package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	"github.com/cooprin/fleetbill/internal/config"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Policy *config.BillingPolicyHolder
}

// Service owns tariff assignment bookkeeping and implements the pricing
// queries the billing engine consumes.
type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	policy *config.BillingPolicyHolder
}

func NewService(p Params) *Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("tariff.service"),
		genID:  p.GenID,
		policy: p.Policy,
	}
}

func NewManagement(s *Service) tariffdomain.Service       { return s }
func NewResolver(s *Service) billingdomain.TariffResolver { return s }

// WithTrx returns a resolver whose queries run on the given transaction.
// Callers that hold a transaction must use it; resolving on a second pool
// connection would both exhaust a bounded pool and read a different snapshot
// than the write that follows.
func (s *Service) WithTrx(tx *gorm.DB) billingdomain.TariffResolver {
	if tx == nil {
		return s
	}
	clone := *s
	clone.db = tx
	return &clone
}

// Assign closes the object's current tariff assignment, if any, and opens a
// new one from req.EffectiveFrom.
func (s *Service) Assign(ctx context.Context, req tariffdomain.AssignRequest) (tariffdomain.ObjectTariff, error) {
	if req.EffectiveFrom.IsZero() {
		return tariffdomain.ObjectTariff{}, tariffdomain.ErrInvalidEffectiveFrom
	}

	var created tariffdomain.ObjectTariff
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tariffID snowflake.ID
		if err := tx.WithContext(ctx).Raw(
			`SELECT id FROM tariffs WHERE id = ?`, req.TariffID,
		).Scan(&tariffID).Error; err != nil {
			return err
		}
		if tariffID == 0 {
			return tariffdomain.ErrTariffNotFound
		}

		var current tariffdomain.ObjectTariff
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, object_id, tariff_id, effective_from, effective_to, created_at
			 FROM object_tariffs
			 WHERE object_id = ? AND effective_to IS NULL`,
			req.ObjectID,
		).Scan(&current).Error; err != nil {
			return err
		}
		if current.ID != 0 {
			if !current.EffectiveFrom.Before(req.EffectiveFrom) {
				return tariffdomain.ErrOverlappingAssignment
			}
			if err := tx.WithContext(ctx).Exec(
				`UPDATE object_tariffs SET effective_to = ? WHERE id = ?`,
				req.EffectiveFrom,
				current.ID,
			).Error; err != nil {
				return err
			}
		}

		created = tariffdomain.ObjectTariff{
			ID:            s.genID.Generate(),
			ObjectID:      req.ObjectID,
			TariffID:      req.TariffID,
			EffectiveFrom: req.EffectiveFrom,
			CreatedAt:     time.Now().UTC(),
		}
		return tx.WithContext(ctx).Create(&created).Error
	})
	if err != nil {
		return tariffdomain.ObjectTariff{}, err
	}
	return created, nil
}

// ResolveLatestTariff returns the tariff in effect for the object at the end
// of the given month, so mid-month changes bill at the newer rate.
func (s *Service) ResolveLatestTariff(ctx context.Context, objectID snowflake.ID, year, month int) (billingdomain.TariffRef, error) {
	boundary := monthEnd(year, month)

	var row struct {
		TariffID snowflake.ID
		Price    string
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT ot.tariff_id, t.price
		 FROM object_tariffs ot
		 JOIN tariffs t ON t.id = ot.tariff_id
		 WHERE ot.object_id = ?
		   AND ot.effective_from <= ?
		   AND (ot.effective_to IS NULL OR ot.effective_to > ?)
		 ORDER BY ot.effective_from DESC
		 LIMIT 1`,
		objectID,
		boundary,
		boundary,
	).Scan(&row).Error
	if err != nil {
		return billingdomain.TariffRef{}, err
	}
	if row.TariffID == 0 {
		return billingdomain.TariffRef{}, billingdomain.ErrNoTariffForPeriod
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(row.Price), 64)
	if err != nil {
		return billingdomain.TariffRef{}, billingdomain.ErrMalformedTariffPrice
	}
	return billingdomain.TariffRef{TariffID: row.TariffID, Price: price}, nil
}

// IsPeriodPaid reports whether the object's charge for the period was
// already settled by some payment.
func (s *Service) IsPeriodPaid(ctx context.Context, objectID snowflake.ID, year, month int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM object_payment_records
		 WHERE object_id = ? AND billing_year = ? AND billing_month = ? AND status = 'paid'`,
		objectID,
		year,
		month,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ShouldChargeForMonth decides whether an object is billable for the period.
// Future periods always charge; otherwise an object picked up after the
// policy cutoff day of its first month is not charged for that month.
func (s *Service) ShouldChargeForMonth(ctx context.Context, objectID, clientID snowflake.ID, year, month int) (bool, error) {
	_ = clientID

	now := time.Now().UTC()
	periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	if periodStart.After(now) {
		return true, nil
	}

	var row struct {
		First *time.Time
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT MIN(effective_from) AS first FROM object_tariffs
		 WHERE object_id = ? AND effective_from < ?`,
		objectID,
		monthEnd(year, month),
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	if row.First == nil {
		return false, nil
	}
	first := row.First.UTC()
	if first.Before(periodStart) {
		return true, nil
	}

	cutoff := s.policy.Current().NewObjectCutoffDay
	return first.Day() <= cutoff, nil
}

// monthEnd is the exclusive upper bound of a billing month.
func monthEnd(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
