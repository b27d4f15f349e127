package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	"github.com/cooprin/fleetbill/internal/config"
	"github.com/cooprin/fleetbill/internal/server"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
)

type billingStub struct {
	lastGenerate *billingdomain.GenerateRequest
}

func (s *billingStub) GenerateMonthly(ctx context.Context, req billingdomain.GenerateRequest) ([]billingdomain.Invoice, error) {
	s.lastGenerate = &req
	return []billingdomain.Invoice{}, nil
}

func (s *billingStub) MarkPaid(ctx context.Context, req billingdomain.MarkPaidRequest) (billingdomain.Invoice, error) {
	return billingdomain.Invoice{ID: req.InvoiceID, Status: billingdomain.InvoiceStatusPaid}, nil
}

func (s *billingStub) List(ctx context.Context, req billingdomain.ListInvoiceRequest) (billingdomain.ListInvoiceResponse, error) {
	return billingdomain.ListInvoiceResponse{}, nil
}

func (s *billingStub) GetByID(ctx context.Context, id string) (billingdomain.InvoiceDetail, error) {
	return billingdomain.InvoiceDetail{}, nil
}

type clientStub struct{}

func (clientStub) List(ctx context.Context, status *clientdomain.ClientStatus) ([]clientdomain.Client, error) {
	return nil, nil
}
func (clientStub) GetByID(ctx context.Context, id string) (clientdomain.Client, error) {
	return clientdomain.Client{}, nil
}
func (clientStub) ListActiveObjects(ctx context.Context, clientID snowflake.ID) ([]clientdomain.TrackedObject, error) {
	return nil, nil
}
func (clientStub) ClearPaymentRequiredMarkers(ctx context.Context, objectIDs []snowflake.ID, month, year int) error {
	return nil
}

type catalogStub struct{}

func (catalogStub) Assign(ctx context.Context, req catalogdomain.AssignRequest) (catalogdomain.ClientService, error) {
	return catalogdomain.ClientService{}, nil
}
func (catalogStub) Terminate(ctx context.Context, assignmentID string) (catalogdomain.ClientService, error) {
	return catalogdomain.ClientService{}, nil
}
func (catalogStub) DeleteService(ctx context.Context, serviceID string) error { return nil }
func (catalogStub) ListActiveAssignments(ctx context.Context, clientID snowflake.ID, at time.Time) ([]catalogdomain.ActiveAssignment, error) {
	return nil, nil
}

type tariffStub struct{}

func (tariffStub) Assign(ctx context.Context, req tariffdomain.AssignRequest) (tariffdomain.ObjectTariff, error) {
	return tariffdomain.ObjectTariff{}, nil
}

type auditStub struct{}

func (auditStub) Log(ctx context.Context, entry auditdomain.Entry) {}

func newTestServer(t *testing.T) (*gin.Engine, *billingStub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(80)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	cfg := config.Config{Environment: "test", HTTPAddr: ":0"}
	engine := server.NewEngine(cfg)
	billing := &billingStub{}
	server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		GenID:      node,
		AuditSvc:   auditStub{},
		BillingSvc: billing,
		ClientSvc:  clientStub{},
		CatalogSvc: catalogStub{},
		TariffSvc:  tariffStub{},
	})
	return engine, billing
}

func TestGenerateRejectsNonNumericPeriod(t *testing.T) {
	engine, billing := newTestServer(t)

	cases := []string{
		`{"month":"abc","year":2025}`,
		`{"month":2,"year":"twenty"}`,
		`{"month":2}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/generate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: got status %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
	if billing.lastGenerate != nil {
		t.Fatalf("expected no service call for invalid input")
	}
}

func TestGenerateForwardsPeriodAndClient(t *testing.T) {
	engine, billing := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/generate",
		strings.NewReader(`{"month":2,"year":2025,"client_id":"12345"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "staff-7")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if billing.lastGenerate == nil {
		t.Fatalf("expected service call")
	}
	if billing.lastGenerate.Month != 2 || billing.lastGenerate.Year != 2025 {
		t.Fatalf("unexpected period: %+v", billing.lastGenerate)
	}
	if billing.lastGenerate.ClientID == nil || billing.lastGenerate.ClientID.String() != "12345" {
		t.Fatalf("unexpected client: %+v", billing.lastGenerate.ClientID)
	}
	if billing.lastGenerate.RequestedBy != "staff-7" {
		t.Fatalf("unexpected requested_by: %q", billing.lastGenerate.RequestedBy)
	}
}

func TestUpdateInvoiceStatusOnlySupportsPaid(t *testing.T) {
	engine, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/invoices/12345/status",
		strings.NewReader(`{"status":"cancelled"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/invoices/12345/status",
		strings.NewReader(`{"status":"paid"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}
