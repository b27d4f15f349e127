package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cooprin/fleetbill/internal/audit/domain"
	"github.com/cooprin/fleetbill/internal/auditcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

// Log writes an audit record. Failures are swallowed after logging so a
// broken audit trail can never abort billing.
func (s *Service) Log(ctx context.Context, entry auditdomain.Entry) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		s.log.Warn("audit entry dropped", zap.Error(auditdomain.ErrInvalidAction))
		return
	}

	actorType, actorID := s.resolveActor(ctx, entry.ActorType, entry.ActorID)

	record := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		EntityType: defaultString(strings.TrimSpace(entry.EntityType), "unknown"),
		EntityID:   normalizePointer(entry.EntityID),
		OldValues:  datatypes.JSONMap(entry.OldValues),
		NewValues:  datatypes.JSONMap(entry.NewValues),
		CreatedAt:  time.Now().UTC(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		record.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		record.UserAgent = &ua
	}
	if record.NewValues == nil {
		record.NewValues = datatypes.JSONMap{}
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		record.NewValues["request_id"] = requestID
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *Service) resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		if ctxType, ctxID := auditcontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if actorID == nil && ctxID != "" {
				actorID = &ctxID
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, normalizePointer(actorID)
}

func defaultString(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
