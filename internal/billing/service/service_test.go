package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	billingservice "github.com/cooprin/fleetbill/internal/billing/service"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	clientservice "github.com/cooprin/fleetbill/internal/client/service"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
	tariffservice "github.com/cooprin/fleetbill/internal/tariff/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) Log(ctx context.Context, entry auditdomain.Entry) {}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.AutoMigrate(
		&clientdomain.Client{},
		&clientdomain.TrackedObject{},
		&clientdomain.ObjectAttribute{},
		&catalogdomain.BillableService{},
		&catalogdomain.ClientService{},
		&tariffdomain.Tariff{},
		&tariffdomain.ObjectTariff{},
		&billingdomain.Invoice{},
		&billingdomain.InvoiceItem{},
		&billingdomain.Payment{},
		&billingdomain.ObjectPaymentRecord{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newBillingService(t *testing.T, db *gorm.DB, node *snowflake.Node) billingdomain.Service {
	t.Helper()

	tariffSvc := tariffservice.NewService(tariffservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	clientSvc := clientservice.NewService(clientservice.Params{
		DB:  db,
		Log: zap.NewNop(),
	})
	return billingservice.NewService(billingservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Resolver:  tariffservice.NewResolver(tariffSvc),
		ClientSvc: clientSvc,
		AuditSvc:  noopAuditService{},
	})
}

func seedClient(t *testing.T, db *gorm.DB, node *snowflake.Node, name string) snowflake.ID {
	t.Helper()
	client := clientdomain.Client{
		ID:     node.Generate(),
		Name:   name,
		Status: clientdomain.ClientStatusActive,
	}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return client.ID
}

func seedObject(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID snowflake.ID, name string) snowflake.ID {
	t.Helper()
	object := clientdomain.TrackedObject{
		ID:       node.Generate(),
		ClientID: clientID,
		Name:     name,
		Status:   clientdomain.ObjectStatusActive,
	}
	if err := db.Create(&object).Error; err != nil {
		t.Fatalf("seed object: %v", err)
	}
	return object.ID
}

func seedService(t *testing.T, db *gorm.DB, node *snowflake.Node, name string, serviceType catalogdomain.ServiceType, fixedPrice *string) snowflake.ID {
	t.Helper()
	svc := catalogdomain.BillableService{
		ID:         node.Generate(),
		Name:       name,
		Type:       serviceType,
		FixedPrice: fixedPrice,
	}
	if err := db.Create(&svc).Error; err != nil {
		t.Fatalf("seed service: %v", err)
	}
	return svc.ID
}

func seedAssignment(t *testing.T, db *gorm.DB, node *snowflake.Node, clientID, serviceID snowflake.ID, start time.Time) snowflake.ID {
	t.Helper()
	assignment := catalogdomain.ClientService{
		ID:        node.Generate(),
		ClientID:  clientID,
		ServiceID: serviceID,
		StartDate: start,
		Status:    catalogdomain.AssignmentStatusActive,
	}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	return assignment.ID
}

func seedTariff(t *testing.T, db *gorm.DB, node *snowflake.Node, name, price string) snowflake.ID {
	t.Helper()
	tariff := tariffdomain.Tariff{
		ID:    node.Generate(),
		Name:  name,
		Price: price,
	}
	if err := db.Create(&tariff).Error; err != nil {
		t.Fatalf("seed tariff: %v", err)
	}
	return tariff.ID
}

func seedObjectTariff(t *testing.T, db *gorm.DB, node *snowflake.Node, objectID, tariffID snowflake.ID, from time.Time, to *time.Time) {
	t.Helper()
	assignment := tariffdomain.ObjectTariff{
		ID:            node.Generate(),
		ObjectID:      objectID,
		TariffID:      tariffID,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("seed object tariff: %v", err)
	}
}

func assertCount(t *testing.T, db *gorm.DB, query string, want int64, args ...any) {
	t.Helper()
	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	if got != want {
		t.Fatalf("count query %q: got %d, want %d", query, got, want)
	}
}

// pastPeriod returns the billing month/year monthsAgo full months before now.
// Anchored to the first of the month so day-of-month normalization cannot
// shift the result.
func pastPeriod(monthsAgo int) (int, int) {
	now := time.Now().UTC()
	at := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -monthsAgo, 0)
	return int(at.Month()), at.Year()
}

func periodStart(month, year int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}
