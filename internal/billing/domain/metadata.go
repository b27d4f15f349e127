package domain

import (
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ObjectCharge is one object billed inside an object-based line item.
type ObjectCharge struct {
	ObjectID snowflake.ID `json:"object_id"`
	TariffID snowflake.ID `json:"tariff_id"`
	Price    float64      `json:"price"`
}

// DebtEntry references an unpaid historical invoice carried forward on a
// debt line item.
type DebtEntry struct {
	InvoiceID    snowflake.ID `json:"unpaid_invoice_id"`
	BillingMonth int          `json:"billing_month"`
	BillingYear  int          `json:"billing_year"`
	Amount       float64      `json:"amount"`
}

// ItemMetadata is the tagged variant stored on invoice items. Exactly one of
// Objects or UnpaidInvoices is populated; it is serialized to JSON only at
// the storage boundary and passed around typed everywhere else.
type ItemMetadata struct {
	Objects        []ObjectCharge `json:"objects,omitempty"`
	UnpaidInvoices []DebtEntry    `json:"unpaid_invoices,omitempty"`
}

// IsObjectBased reports whether the metadata describes per-object charges.
func (m ItemMetadata) IsObjectBased() bool { return len(m.Objects) > 0 }

// IsDebt reports whether the metadata describes carried-forward invoices.
func (m ItemMetadata) IsDebt() bool { return len(m.UnpaidInvoices) > 0 }

// IsEmpty reports whether the metadata carries nothing.
func (m ItemMetadata) IsEmpty() bool { return !m.IsObjectBased() && !m.IsDebt() }

// ToJSON serializes the metadata for storage.
func (m ItemMetadata) ToJSON() (datatypes.JSON, error) {
	if m.IsEmpty() {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// ParseItemMetadata deserializes stored metadata. A nil or empty column
// yields empty metadata; malformed JSON is an error the caller decides on
// (the idempotency scan skips the row with a warning, reconciliation does
// the same).
func ParseItemMetadata(raw datatypes.JSON) (ItemMetadata, error) {
	var meta ItemMetadata
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ItemMetadata{}, err
	}
	return meta, nil
}
