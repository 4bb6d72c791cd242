package service

import (
	"context"
	"time"

	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/repository"
)

// Storage ports. Implementations live in repository.
type OrderRepository interface {
	Insert(ctx context.Context, o *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByTxRef(ctx context.Context, txRef string) (*model.Order, error)
	FindByUserID(ctx context.Context, userID string) ([]*model.Order, error)
	Find(ctx context.Context, f repository.OrderFilter) ([]*model.Order, int64, error)
	// Replace must fail with ConcurrentModificationError when the stored version moved.
	Replace(ctx context.Context, o *model.Order, expectedVersion int64) error
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, ref string) (*model.Product, error)
}

// StockStore decrements are conditional: false means the stock was lower than qty
// (or the product does not exist) and nothing changed.
type StockStore interface {
	GetStock(ctx context.Context, ref string) (int, error)
	DecrementStock(ctx context.Context, ref string, qty int) (bool, error)
	IncrementStock(ctx context.Context, ref string, qty int) error
}

type ReservationRepository interface {
	Create(ctx context.Context, r *model.Reservation) error
	FindByID(ctx context.Context, id string) (*model.Reservation, error)
	MarkReleased(ctx context.Context, id string, at time.Time) (bool, error)
}

// NotificationDispatcher is fire-and-forget: implementations never fail the caller.
type NotificationDispatcher interface {
	OrderCreated(ctx context.Context, o *model.Order)
	OrderStatusChanged(ctx context.Context, o *model.Order, from model.Status, note string)
	PaymentAfterCancellation(ctx context.Context, o *model.Order)
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.OrderEvent) error
}

const systemActor = "system"

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
