package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	"github.com/cooprin/fleetbill/pkg/db/option"
	"github.com/cooprin/fleetbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clientrepo repository.Repository[clientdomain.Client]
	objectrepo repository.Repository[clientdomain.TrackedObject]
}

func NewService(p Params) clientdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("client.service"),

		clientrepo: repository.ProvideStore[clientdomain.Client](p.DB),
		objectrepo: repository.ProvideStore[clientdomain.TrackedObject](p.DB),
	}
}

func (s *Service) List(ctx context.Context, status *clientdomain.ClientStatus) ([]clientdomain.Client, error) {
	filter := &clientdomain.Client{}
	if status != nil {
		filter.Status = *status
	}

	items, err := s.clientrepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"name": true}, Default: "name"}),
	)
	if err != nil {
		return nil, err
	}

	clients := make([]clientdomain.Client, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		clients = append(clients, *item)
	}
	return clients, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (clientdomain.Client, error) {
	clientID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return clientdomain.Client{}, clientdomain.ErrInvalidClientID
	}

	item, err := s.clientrepo.FindOne(ctx, &clientdomain.Client{ID: clientID})
	if err != nil {
		return clientdomain.Client{}, err
	}
	if item == nil {
		return clientdomain.Client{}, clientdomain.ErrClientNotFound
	}
	return *item, nil
}

func (s *Service) ListActiveObjects(ctx context.Context, clientID snowflake.ID) ([]clientdomain.TrackedObject, error) {
	items, err := s.objectrepo.Find(ctx, &clientdomain.TrackedObject{
		ClientID: clientID,
		Status:   clientdomain.ObjectStatusActive,
	})
	if err != nil {
		return nil, err
	}

	objects := make([]clientdomain.TrackedObject, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		objects = append(objects, *item)
	}
	return objects, nil
}

// ClearPaymentRequiredMarkers removes the payment_required_month attribute
// for the given objects and period. Callers treat failures as non-fatal.
func (s *Service) ClearPaymentRequiredMarkers(ctx context.Context, objectIDs []snowflake.ID, month, year int) error {
	if len(objectIDs) == 0 {
		return nil
	}

	marker := fmt.Sprintf("%d_%d", month, year)
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM object_attributes
		 WHERE object_id IN ? AND name = ? AND value = ?`,
		objectIDs,
		clientdomain.AttrPaymentRequiredMonth,
		marker,
	).Error
}
