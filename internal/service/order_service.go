package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/repository"
)

const orderNumberAttempts = 5

type OrderLineInput struct {
	ProductRef string
	Quantity   int
}

type CreateOrderInput struct {
	UserID          string
	Items           []OrderLineInput
	ShippingAddress model.ShippingAddress
	PaymentMethod   model.PaymentMethod
	ItemsPrice      decimal.Decimal
	ShippingPrice   decimal.Decimal
	TotalPrice      decimal.Decimal
}

type UpdateStatusInput struct {
	OrderID string
	Status  model.Status
	Note    string
	// nil means "whatever is stored now"
	Version *int64
	Actor   string
}

type OrderPage struct {
	Orders []*model.Order
	Total  int64
	Page   int
	Limit  int
	Pages  int
}

type OrderService struct {
	orders    OrderRepository
	catalog   ProductCatalog
	inventory *InventoryCoordinator
	machine   *StateMachine
	notifier  NotificationDispatcher
	log       *zap.Logger
	clock     clock
}

func NewOrderService(orders OrderRepository, catalog ProductCatalog, inventory *InventoryCoordinator, machine *StateMachine, notifier NotificationDispatcher, log *zap.Logger) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderService{
		orders:    orders,
		catalog:   catalog,
		inventory: inventory,
		machine:   machine,
		notifier:  notifier,
		log:       log,
	}
}

// CreateOrder snapshots the catalog, checks the price breakdown, reserves stock and
// persists the order. Nothing is reserved when validation fails, and the
// reservation is released when the order cannot be stored.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if len(in.Items) == 0 {
		return nil, apperr.Validation("items", "no order items provided")
	}
	items := make([]model.OrderItem, 0, len(in.Items))
	lines := make([]ReserveLine, 0, len(in.Items))
	for i, line := range in.Items {
		if line.ProductRef == "" {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].productRef", i), "is required")
		}
		if line.Quantity < 1 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		p, err := s.catalog.GetProduct(ctx, line.ProductRef)
		if err != nil {
			return nil, err
		}
		items = append(items, model.OrderItem{
			ProductRef: p.ID,
			Name:       p.Name,
			Image:      p.Image,
			Price:      p.Price,
			Quantity:   line.Quantity,
		})
		lines = append(lines, ReserveLine{ProductRef: p.ID, Quantity: line.Quantity})
	}

	now := s.clock.now()
	order, err := model.NewOrder(model.NewOrderParams{
		ID:              uuid.NewString(),
		OrderNumber:     model.GenerateOrderNumber(now),
		UserID:          in.UserID,
		Items:           items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		ItemsPrice:      in.ItemsPrice,
		ShippingPrice:   in.ShippingPrice,
		TotalPrice:      in.TotalPrice,
	}, now)
	if err != nil {
		return nil, err
	}

	res, err := s.inventory.Reserve(ctx, order.ID, lines)
	if err != nil {
		return nil, err
	}
	order.ReservationID = res.ID

	log := logging.FromContext(ctx, s.log)
	if err := s.insert(ctx, order, now); err != nil {
		if relErr := s.inventory.Release(context.WithoutCancel(ctx), res.ID); relErr != nil {
			log.Error("reservation_release_failed",
				zap.String("order_id", order.ID),
				zap.String("reservation_id", res.ID),
				zap.Error(relErr))
		}
		return nil, err
	}

	log.Info("order_created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.String("total_price", order.TotalPrice.String()))
	s.notifier.OrderCreated(ctx, order)
	return order, nil
}

func (s *OrderService) insert(ctx context.Context, order *model.Order, now time.Time) error {
	for attempt := 1; ; attempt++ {
		err := s.orders.Insert(ctx, order)
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			return err
		}
		if attempt == orderNumberAttempts {
			return fmt.Errorf("allocate order number after %d attempts: %w", attempt, err)
		}
		order.OrderNumber = model.GenerateOrderNumber(now)
	}
}

// GetOrder is visible to the owner and to admins.
func (s *OrderService) GetOrder(ctx context.Context, id string, user User) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != user.ID && !user.IsAdmin() {
		return nil, apperr.Forbidden("you cannot view another user's order")
	}
	return o, nil
}

func (s *OrderService) ListMyOrders(ctx context.Context, userID string) ([]*model.Order, error) {
	return s.orders.FindByUserID(ctx, userID)
}

func (s *OrderService) ListOrders(ctx context.Context, f repository.OrderFilter) (*OrderPage, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, apperr.Validation("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	f = f.Normalized()
	orders, total, err := s.orders.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	pages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return &OrderPage{Orders: orders, Total: total, Page: f.Page, Limit: f.Limit, Pages: pages}, nil
}

func (s *OrderService) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*model.Order, error) {
	if in.Version == nil {
		return s.machine.TransitionLatest(ctx, in.OrderID, in.Status, in.Note, in.Actor)
	}
	return s.machine.Transition(ctx, TransitionRequest{
		OrderID:         in.OrderID,
		To:              in.Status,
		Note:            in.Note,
		ExpectedVersion: *in.Version,
		Actor:           in.Actor,
	})
}
