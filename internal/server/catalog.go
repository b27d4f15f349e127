package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
)

type assignServiceRequest struct {
	ClientID  string  `json:"client_id"`
	ServiceID string  `json:"service_id"`
	StartDate *string `json:"start_date"`
}

func (s *Server) AssignService(c *gin.Context) {
	var req assignServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid value"))
		return
	}
	serviceID, err := snowflake.ParseString(strings.TrimSpace(req.ServiceID))
	if err != nil {
		AbortWithError(c, catalogdomain.ErrInvalidServiceID)
		return
	}

	startDate := time.Now().UTC()
	if req.StartDate != nil {
		startDate, err = time.Parse(time.RFC3339, *req.StartDate)
		if err != nil {
			AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid value"))
			return
		}
	}

	assignment, err := s.catalogSvc.Assign(c.Request.Context(), catalogdomain.AssignRequest{
		ClientID:  clientID,
		ServiceID: serviceID,
		StartDate: startDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": assignment})
}

func (s *Server) TerminateAssignment(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, catalogdomain.ErrInvalidAssignmentID)
		return
	}

	assignment, err := s.catalogSvc.Terminate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": assignment})
}

func (s *Server) DeleteService(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, catalogdomain.ErrInvalidServiceID)
		return
	}

	if err := s.catalogSvc.DeleteService(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type assignTariffRequest struct {
	ObjectID      string `json:"object_id"`
	TariffID      string `json:"tariff_id"`
	EffectiveFrom string `json:"effective_from"`
}

func (s *Server) AssignTariff(c *gin.Context) {
	var req assignTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	objectID, err := snowflake.ParseString(strings.TrimSpace(req.ObjectID))
	if err != nil {
		AbortWithError(c, newValidationError("object_id", "invalid_object_id", "invalid value"))
		return
	}
	tariffID, err := snowflake.ParseString(strings.TrimSpace(req.TariffID))
	if err != nil {
		AbortWithError(c, newValidationError("tariff_id", "invalid_tariff_id", "invalid value"))
		return
	}
	effectiveFrom, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EffectiveFrom))
	if err != nil {
		AbortWithError(c, tariffdomain.ErrInvalidEffectiveFrom)
		return
	}

	assignment, err := s.tariffSvc.Assign(c.Request.Context(), tariffdomain.AssignRequest{
		ObjectID:      objectID,
		TariffID:      tariffID,
		EffectiveFrom: effectiveFrom,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": assignment})
}
