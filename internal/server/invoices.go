package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	"github.com/cooprin/fleetbill/pkg/db/pagination"
)

type generateInvoicesRequest struct {
	Month    json.Number `json:"month"`
	Year     json.Number `json:"year"`
	ClientID *string     `json:"client_id"`
}

func (s *Server) GenerateInvoices(c *gin.Context) {
	var req generateInvoicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	// json.Number keeps "13" and "abc" apart from 13; both must be
	// rejected with a clear field error rather than coerced.
	month, err := strconv.Atoi(req.Month.String())
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidMonth)
		return
	}
	year, err := strconv.Atoi(req.Year.String())
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidYear)
		return
	}

	generate := billingdomain.GenerateRequest{
		Month:       month,
		Year:        year,
		RequestedBy: requestActor(c),
	}
	if req.ClientID != nil {
		clientID, err := snowflake.ParseString(strings.TrimSpace(*req.ClientID))
		if err != nil {
			AbortWithError(c, billingdomain.ErrInvalidClientID)
			return
		}
		generate.ClientID = &clientID
	}

	invoices, err := s.billingSvc.GenerateMonthly(c.Request.Context(), generate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices, "count": len(invoices)})
}

func (s *Server) ListInvoices(c *gin.Context) {
	req := billingdomain.ListInvoiceRequest{
		Pagination: pagination.Pagination{
			PageToken: c.Query("page_token"),
		},
	}

	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid value"))
			return
		}
		req.PageSize = int32(size)
	}
	if raw := strings.TrimSpace(c.Query("client_id")); raw != "" {
		clientID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, billingdomain.ErrInvalidClientID)
			return
		}
		req.ClientID = &clientID
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := billingdomain.InvoiceStatus(raw)
		req.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		month, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, billingdomain.ErrInvalidMonth)
			return
		}
		req.BillingMonth = &month
	}
	if raw := strings.TrimSpace(c.Query("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, billingdomain.ErrInvalidYear)
			return
		}
		req.BillingYear = &year
	}

	resp, err := s.billingSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":            resp.Invoices,
		"next_page_token": resp.NextPageToken,
		"has_more":        resp.HasMore,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, billingdomain.ErrInvalidInvoiceID)
		return
	}

	detail, err := s.billingSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": detail})
}

type updateInvoiceStatusRequest struct {
	Status      string   `json:"status"`
	PaymentDate *string  `json:"payment_date"`
	Amount      *float64 `json:"amount"`
	Notes       *string  `json:"notes"`
}

func (s *Server) UpdateInvoiceStatus(c *gin.Context) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidInvoiceID)
		return
	}

	var req updateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}
	if billingdomain.InvoiceStatus(req.Status) != billingdomain.InvoiceStatusPaid {
		AbortWithError(c, newValidationError("status", "unsupported_status", "only the paid transition is supported"))
		return
	}

	markPaid := billingdomain.MarkPaidRequest{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Notes:     req.Notes,
		PaidBy:    requestActor(c),
	}
	if req.PaymentDate != nil {
		paymentDate, err := time.Parse(time.RFC3339, *req.PaymentDate)
		if err != nil {
			AbortWithError(c, newValidationError("payment_date", "invalid_payment_date", "invalid value"))
			return
		}
		markPaid.PaymentDate = paymentDate
	}

	invoice, err := s.billingSvc.MarkPaid(c.Request.Context(), markPaid)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func requestActor(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(headerActorID))
}
