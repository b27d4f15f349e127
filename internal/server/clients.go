package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
)

func (s *Server) ListClients(c *gin.Context) {
	var status *clientdomain.ClientStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed := clientdomain.ClientStatus(raw)
		status = &parsed
	}

	clients, err := s.clientSvc.List(c.Request.Context(), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": clients})
}

func (s *Server) GetClientByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, clientdomain.ErrInvalidClientID)
		return
	}

	client, err := s.clientSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": client})
}

func (s *Server) ListClientObjects(c *gin.Context) {
	clientID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, clientdomain.ErrInvalidClientID)
		return
	}

	objects, err := s.clientSvc.ListActiveObjects(c.Request.Context(), clientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": objects})
}
