package repository

import (
	"context"

	"github.com/cooprin/fleetbill/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin generic store over gorm for simple lookups; anything
// billing-critical runs raw SQL inside an explicit transaction instead.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	Delete(ctx context.Context, resourceID string) error
	Count(ctx context.Context, query *T) (int64, error)
}
