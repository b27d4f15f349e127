package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	"github.com/cooprin/fleetbill/internal/config"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestContext())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	billingSvc billingdomain.Service
	clientSvc  clientdomain.Service
	catalogSvc catalogdomain.Service
	tariffSvc  tariffdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	BillingSvc billingdomain.Service
	ClientSvc  clientdomain.Service
	CatalogSvc catalogdomain.Service
	TariffSvc  tariffdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		billingSvc: p.BillingSvc,
		clientSvc:  p.ClientSvc,
		catalogSvc: p.CatalogSvc,
		tariffSvc:  p.TariffSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Invoices --------
	api.POST("/invoices/generate", s.GenerateInvoices)
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.PATCH("/invoices/:id/status", s.UpdateInvoiceStatus)

	// -------- Clients --------
	api.GET("/clients", s.ListClients)
	api.GET("/clients/:id", s.GetClientByID)
	api.GET("/clients/:id/objects", s.ListClientObjects)

	// -------- Service catalog --------
	api.POST("/assignments", s.AssignService)
	api.POST("/assignments/:id/terminate", s.TerminateAssignment)
	api.DELETE("/services/:id", s.DeleteService)

	// -------- Tariffs --------
	api.POST("/tariffs/assign", s.AssignTariff)
}
