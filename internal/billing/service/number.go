package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// numberingLockKey serializes invoice number allocation across all callers.
// Keyed on one constant rather than the year: global contention is accepted
// in exchange for a single, easily reasoned-about serialization point.
const numberingLockKey int64 = 874023942

// allocateInvoiceNumber hands out the next {year}-{seq:04d} number inside
// the caller's transaction. Gaps may appear when a transaction aborts;
// duplicates never do: a post-computation existence re-check falls back to a
// unix-millis suffix so a race or corrupted row cannot fail the whole run.
func (s *Service) allocateInvoiceNumber(ctx context.Context, tx *gorm.DB, year int) (string, error) {
	if tx.Dialector.Name() == "postgres" {
		if err := tx.WithContext(ctx).Exec(
			`SELECT pg_advisory_xact_lock(?)`, numberingLockKey,
		).Error; err != nil {
			return "", err
		}
	}

	var numbers []string
	if err := tx.WithContext(ctx).Raw(
		`SELECT invoice_number FROM invoices WHERE invoice_number LIKE ?`,
		fmt.Sprintf("%d-%%", year),
	).Scan(&numbers).Error; err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("%d-", year)
	maxSeq := 0
	for _, number := range numbers {
		suffix := strings.TrimPrefix(number, prefix)
		if suffix == number {
			continue
		}
		seq, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	candidate := fmt.Sprintf("%d-%04d", year, maxSeq+1)

	var exists int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices WHERE invoice_number = ?`, candidate,
	).Scan(&exists).Error; err != nil {
		return "", err
	}
	if exists > 0 {
		fallback := fmt.Sprintf("%d-%06d", year, time.Now().UnixMilli()%1_000_000)
		s.log.Warn("invoice number collision, using fallback",
			zap.String("candidate", candidate),
			zap.String("fallback", fallback),
		)
		s.obsMetrics.IncNumberFallback(ctx)
		return fallback, nil
	}

	return candidate, nil
}
