package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	catalogservice "github.com/cooprin/fleetbill/internal/catalog/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) Log(ctx context.Context, entry auditdomain.Entry) {}

func setupCatalogDB(t *testing.T) *gorm.DB {
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

	if err := db.AutoMigrate(
		&catalogdomain.BillableService{},
		&catalogdomain.ClientService{},
		&billingdomain.Invoice{},
		&billingdomain.InvoiceItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newCatalogService(t *testing.T, db *gorm.DB, node *snowflake.Node) catalogdomain.Service {
	t.Helper()
	return catalogservice.NewService(catalogservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: noopAuditService{},
	})
}

func createService(t *testing.T, db *gorm.DB, node *snowflake.Node, name string, serviceType catalogdomain.ServiceType, fixedPrice *string) snowflake.ID {
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

func TestAssignRejectsDuplicateActiveAssignment(t *testing.T) {
	ctx := context.Background()
	db := setupCatalogDB(t)
	node, err := snowflake.NewNode(70)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newCatalogService(t, db, node)

	clientID := node.Generate()
	serviceID := createService(t, db, node, "GPS Tracking", catalogdomain.ServiceTypeObjectBased, nil)

	req := catalogdomain.AssignRequest{
		ClientID:  clientID,
		ServiceID: serviceID,
		StartDate: time.Now().UTC().AddDate(0, -1, 0),
	}
	if _, err := svc.Assign(ctx, req); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Assign(ctx, req); !errors.Is(err, catalogdomain.ErrDuplicateAssignment) {
		t.Fatalf("got %v, want %v", err, catalogdomain.ErrDuplicateAssignment)
	}
}

func TestAssignRequiresPriceOnFixedService(t *testing.T) {
	ctx := context.Background()
	db := setupCatalogDB(t)
	node, err := snowflake.NewNode(71)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newCatalogService(t, db, node)

	serviceID := createService(t, db, node, "Support", catalogdomain.ServiceTypeFixed, nil)
	_, err = svc.Assign(ctx, catalogdomain.AssignRequest{
		ClientID:  node.Generate(),
		ServiceID: serviceID,
		StartDate: time.Now().UTC(),
	})
	if !errors.Is(err, catalogdomain.ErrMissingFixedPrice) {
		t.Fatalf("got %v, want %v", err, catalogdomain.ErrMissingFixedPrice)
	}
}

func TestTerminateKeepsRowForInvoiceHistory(t *testing.T) {
	ctx := context.Background()
	db := setupCatalogDB(t)
	node, err := snowflake.NewNode(72)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newCatalogService(t, db, node)

	serviceID := createService(t, db, node, "GPS Tracking", catalogdomain.ServiceTypeObjectBased, nil)
	assignment, err := svc.Assign(ctx, catalogdomain.AssignRequest{
		ClientID:  node.Generate(),
		ServiceID: serviceID,
		StartDate: time.Now().UTC().AddDate(0, -1, 0),
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	terminated, err := svc.Terminate(ctx, assignment.ID.String())
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if terminated.Status != catalogdomain.AssignmentStatusTerminated || terminated.EndDate == nil {
		t.Fatalf("unexpected terminated assignment: %+v", terminated)
	}

	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM client_services WHERE id = ?", assignment.ID).Scan(&count).Error; err != nil {
		t.Fatalf("count assignments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected assignment row to survive termination")
	}

	if _, err := svc.Terminate(ctx, assignment.ID.String()); !errors.Is(err, catalogdomain.ErrAssignmentNotActive) {
		t.Fatalf("got %v, want %v", err, catalogdomain.ErrAssignmentNotActive)
	}
}

func TestDeleteServiceGuards(t *testing.T) {
	ctx := context.Background()
	db := setupCatalogDB(t)
	node, err := snowflake.NewNode(73)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := newCatalogService(t, db, node)

	// Blocked while an active assignment references it.
	assigned := createService(t, db, node, "Assigned", catalogdomain.ServiceTypeObjectBased, nil)
	if _, err := svc.Assign(ctx, catalogdomain.AssignRequest{
		ClientID:  node.Generate(),
		ServiceID: assigned,
		StartDate: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.DeleteService(ctx, assigned.String()); !errors.Is(err, catalogdomain.ErrServiceStillAssigned) {
		t.Fatalf("got %v, want %v", err, catalogdomain.ErrServiceStillAssigned)
	}

	// Blocked while invoice history references it.
	invoiced := createService(t, db, node, "Invoiced", catalogdomain.ServiceTypeObjectBased, nil)
	invoiceID := node.Generate()
	serviceRef := invoiced
	item := billingdomain.InvoiceItem{
		ID:          node.Generate(),
		InvoiceID:   invoiceID,
		ServiceID:   &serviceRef,
		Description: "history",
		Quantity:    1,
		UnitPrice:   10,
		TotalPrice:  10,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed invoice item: %v", err)
	}
	if err := svc.DeleteService(ctx, invoiced.String()); !errors.Is(err, catalogdomain.ErrServiceStillInvoiced) {
		t.Fatalf("got %v, want %v", err, catalogdomain.ErrServiceStillInvoiced)
	}

	// Unreferenced services can go.
	unused := createService(t, db, node, "Unused", catalogdomain.ServiceTypeFixed, nil)
	if err := svc.DeleteService(ctx, unused.String()); err != nil {
		t.Fatalf("delete unused: %v", err)
	}
	var count int64
	if err := db.Raw("SELECT COUNT(1) FROM services WHERE id = ?", unused).Scan(&count).Error; err != nil {
		t.Fatalf("count services: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected service to be deleted")
	}
}
