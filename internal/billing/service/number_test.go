package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	"gorm.io/gorm"
)

func billableClient(t *testing.T, db *gorm.DB, node *snowflake.Node, name string, month, year int) snowflake.ID {
	t.Helper()
	start := periodStart(month, year).AddDate(0, -3, 0)
	clientID := seedClient(t, db, node, name)
	object := seedObject(t, db, node, clientID, name+"-truck")
	tracking := seedService(t, db, node, name+" tracking", catalogdomain.ServiceTypeObjectBased, nil)
	seedAssignment(t, db, node, clientID, tracking, start)
	tariff := seedTariff(t, db, node, name+" tariff", "25.00")
	seedObjectTariff(t, db, node, object, tariff, start, nil)
	return clientID
}

func TestInvoiceNumbersAreSequentialPerYear(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(40)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newBillingService(t, db, node)

	month, year := pastPeriod(1)
	first := billableClient(t, db, node, "alpha", month, year)
	second := billableClient(t, db, node, "beta", month, year)

	invoicesA, err := svc.GenerateMonthly(ctx, billingdomain.GenerateRequest{
		Month: month, Year: year, ClientID: &first, RequestedBy: "tester",
	})
	if err != nil || len(invoicesA) != 1 {
		t.Fatalf("first client: %v (%d invoices)", err, len(invoicesA))
	}
	invoicesB, err := svc.GenerateMonthly(ctx, billingdomain.GenerateRequest{
		Month: month, Year: year, ClientID: &second, RequestedBy: "tester",
	})
	if err != nil || len(invoicesB) != 1 {
		t.Fatalf("second client: %v (%d invoices)", err, len(invoicesB))
	}

	wantA := fmt.Sprintf("%d-0001", year)
	wantB := fmt.Sprintf("%d-0002", year)
	if invoicesA[0].InvoiceNumber != wantA {
		t.Fatalf("expected %s, got %s", wantA, invoicesA[0].InvoiceNumber)
	}
	if invoicesB[0].InvoiceNumber != wantB {
		t.Fatalf("expected %s, got %s", wantB, invoicesB[0].InvoiceNumber)
	}
}

func TestInvoiceNumberAllocationIgnoresForeignSuffixes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(41)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newBillingService(t, db, node)

	month, year := pastPeriod(1)
	clientID := billableClient(t, db, node, "gamma", month, year)

	// Pre-existing numbers: one with a junk suffix that must not poison the
	// sequence scan, one real high-water mark to continue from.
	other := seedClient(t, db, node, "legacy")
	for i, number := range []string{fmt.Sprintf("%d-draft", year), fmt.Sprintf("%d-0041", year)} {
		prevMonth := month - 1
		prevYear := year
		if prevMonth < 1 {
			prevMonth = 12
			prevYear--
		}
		seeded := billingdomain.Invoice{
			ID:            node.Generate(),
			ClientID:      other,
			InvoiceNumber: number,
			InvoiceDate:   time.Now().UTC(),
			BillingMonth:  prevMonth,
			BillingYear:   prevYear,
			TotalAmount:   float64(i + 1),
			Status:        billingdomain.InvoiceStatusPaid,
		}
		if err := db.Create(&seeded).Error; err != nil {
			t.Fatalf("seed invoice %s: %v", number, err)
		}
	}

	invoices, err := svc.GenerateMonthly(ctx, billingdomain.GenerateRequest{
		Month: month, Year: year, ClientID: &clientID, RequestedBy: "tester",
	})
	if err != nil || len(invoices) != 1 {
		t.Fatalf("generate: %v (%d invoices)", err, len(invoices))
	}

	want := fmt.Sprintf("%d-0042", year)
	if invoices[0].InvoiceNumber != want {
		t.Fatalf("expected %s, got %s", want, invoices[0].InvoiceNumber)
	}
}
