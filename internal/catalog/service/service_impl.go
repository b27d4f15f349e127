package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	"github.com/cooprin/fleetbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	servicerepo repository.Repository[catalogdomain.BillableService]
	auditSvc    auditdomain.Service
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,

		servicerepo: repository.ProvideStore[catalogdomain.BillableService](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Assign(ctx context.Context, req catalogdomain.AssignRequest) (catalogdomain.ClientService, error) {
	if req.ClientID == 0 {
		return catalogdomain.ClientService{}, catalogdomain.ErrInvalidAssignmentID
	}

	var created catalogdomain.ClientService
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := s.loadService(ctx, tx, req.ServiceID)
		if err != nil {
			return err
		}
		if svc == nil {
			return catalogdomain.ErrServiceNotFound
		}
		if svc.Type == catalogdomain.ServiceTypeFixed && svc.FixedPrice == nil {
			return catalogdomain.ErrMissingFixedPrice
		}

		var existing int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM client_services
			 WHERE client_id = ? AND service_id = ? AND status = ?
			   AND (end_date IS NULL OR end_date > ?)`,
			req.ClientID,
			req.ServiceID,
			catalogdomain.AssignmentStatusActive,
			time.Now().UTC(),
		).Scan(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return catalogdomain.ErrDuplicateAssignment
		}

		start := req.StartDate
		if start.IsZero() {
			start = time.Now().UTC()
		}
		now := time.Now().UTC()
		created = catalogdomain.ClientService{
			ID:        s.genID.Generate(),
			ClientID:  req.ClientID,
			ServiceID: req.ServiceID,
			StartDate: start,
			Status:    catalogdomain.AssignmentStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&created).Error
	})
	if err != nil {
		return catalogdomain.ClientService{}, err
	}

	entityID := created.ID.String()
	s.auditSvc.Log(ctx, auditdomain.Entry{
		Action:     "client_service.assigned",
		EntityType: "client_service",
		EntityID:   &entityID,
		NewValues: map[string]any{
			"client_id":  created.ClientID.String(),
			"service_id": created.ServiceID.String(),
			"start_date": created.StartDate.Format(time.RFC3339),
		},
	})
	return created, nil
}

// Terminate closes an assignment: end_date is set and status flips to
// terminated. The row itself survives because invoices reference it.
func (s *Service) Terminate(ctx context.Context, assignmentID string) (catalogdomain.ClientService, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(assignmentID))
	if err != nil {
		return catalogdomain.ClientService{}, catalogdomain.ErrInvalidAssignmentID
	}

	var terminated catalogdomain.ClientService
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignment catalogdomain.ClientService
		if err := tx.WithContext(ctx).Raw(
			`SELECT id, client_id, service_id, start_date, end_date, status, created_at, updated_at
			 FROM client_services WHERE id = ?`,
			id,
		).Scan(&assignment).Error; err != nil {
			return err
		}
		if assignment.ID == 0 {
			return catalogdomain.ErrAssignmentNotFound
		}
		if assignment.Status != catalogdomain.AssignmentStatusActive {
			return catalogdomain.ErrAssignmentNotActive
		}

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE client_services
			 SET status = ?, end_date = ?, updated_at = ?
			 WHERE id = ?`,
			catalogdomain.AssignmentStatusTerminated,
			now,
			now,
			id,
		).Error; err != nil {
			return err
		}
		assignment.Status = catalogdomain.AssignmentStatusTerminated
		assignment.EndDate = &now
		assignment.UpdatedAt = now
		terminated = assignment
		return nil
	})
	if err != nil {
		return catalogdomain.ClientService{}, err
	}

	entityID := terminated.ID.String()
	s.auditSvc.Log(ctx, auditdomain.Entry{
		Action:     "client_service.terminated",
		EntityType: "client_service",
		EntityID:   &entityID,
		OldValues:  map[string]any{"status": string(catalogdomain.AssignmentStatusActive)},
		NewValues:  map[string]any{"status": string(catalogdomain.AssignmentStatusTerminated)},
	})
	return terminated, nil
}

// DeleteService removes a service definition, rejecting the call while any
// invoice item or active assignment still references it.
func (s *Service) DeleteService(ctx context.Context, serviceID string) error {
	id, err := snowflake.ParseString(strings.TrimSpace(serviceID))
	if err != nil {
		return catalogdomain.ErrInvalidServiceID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := s.loadService(ctx, tx, id)
		if err != nil {
			return err
		}
		if svc == nil {
			return catalogdomain.ErrServiceNotFound
		}

		var invoiced int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM invoice_items WHERE service_id = ?`, id,
		).Scan(&invoiced).Error; err != nil {
			return err
		}
		if invoiced > 0 {
			return catalogdomain.ErrServiceStillInvoiced
		}

		var assigned int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(1) FROM client_services WHERE service_id = ? AND status = ?`,
			id,
			catalogdomain.AssignmentStatusActive,
		).Scan(&assigned).Error; err != nil {
			return err
		}
		if assigned > 0 {
			return catalogdomain.ErrServiceStillAssigned
		}

		return tx.WithContext(ctx).Exec(`DELETE FROM services WHERE id = ?`, id).Error
	})
	if err != nil {
		return err
	}

	entityID := id.String()
	s.auditSvc.Log(ctx, auditdomain.Entry{
		Action:     "service.deleted",
		EntityType: "service",
		EntityID:   &entityID,
	})
	return nil
}

// ListActiveAssignments returns active assignments joined with their service
// definitions, effective at the given instant.
func (s *Service) ListActiveAssignments(ctx context.Context, clientID snowflake.ID, at time.Time) ([]catalogdomain.ActiveAssignment, error) {
	var assignments []catalogdomain.ActiveAssignment
	err := s.db.WithContext(ctx).Raw(
		`SELECT cs.id AS assignment_id, sv.id AS service_id, sv.name AS service_name,
		        sv.service_type, sv.fixed_price
		 FROM client_services cs
		 JOIN services sv ON sv.id = cs.service_id
		 WHERE cs.client_id = ?
		   AND cs.status = ?
		   AND cs.start_date <= ?
		   AND (cs.end_date IS NULL OR cs.end_date > ?)
		 ORDER BY sv.name`,
		clientID,
		catalogdomain.AssignmentStatusActive,
		at,
		at,
	).Scan(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Service) loadService(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*catalogdomain.BillableService, error) {
	return s.servicerepo.WithTrx(tx).FindOne(ctx, &catalogdomain.BillableService{ID: id})
}
