package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/repository"
)

type statusChange struct {
	OrderID string
	From    model.Status
	To      model.Status
}

type recordingNotifier struct {
	mu          sync.Mutex
	created     []string
	changes     []statusChange
	afterCancel []string
}

func (n *recordingNotifier) OrderCreated(_ context.Context, o *model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o.ID)
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, o *model.Order, from model.Status, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, statusChange{OrderID: o.ID, From: from, To: o.Status})
}

func (n *recordingNotifier) PaymentAfterCancellation(_ context.Context, o *model.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.afterCancel = append(n.afterCancel, o.ID)
}

func (n *recordingNotifier) changeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

type fixture struct {
	store        *repository.MemoryStore
	orders       *repository.MemoryOrders
	reservations *repository.MemoryReservations
	notifier     *recordingNotifier
	inventory    *InventoryCoordinator
	machine      *StateMachine
	reconciler   *Reconciler
	orderSvc     *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &fixture{
		store:        store,
		orders:       repository.NewMemoryOrders(store),
		reservations: repository.NewMemoryReservations(store),
		notifier:     &recordingNotifier{},
	}
	f.inventory = NewInventoryCoordinator(store, f.reservations, nil, nil)
	f.machine = NewStateMachine(f.orders, f.inventory, f.notifier, nil)
	f.reconciler = NewReconciler(f.orders, f.notifier, nil, nil, ReconcilerOptions{AutoProcess: true})
	f.orderSvc = NewOrderService(f.orders, store, f.inventory, f.machine, f.notifier, nil)
	return f
}

func (f *fixture) seed(id string, price int64, stock int) {
	f.store.SeedProduct(model.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price), Stock: stock})
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := f.store.GetStock(context.Background(), id)
	if err != nil {
		t.Fatalf("get stock %s: %v", id, err)
	}
	return n
}

func (f *fixture) reload(t *testing.T, id string) *model.Order {
	t.Helper()
	o, err := f.orders.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload order %s: %v", id, err)
	}
	return o
}

// orderInput prices every line from the seeded catalog, so the price invariant holds.
func (f *fixture) orderInput(t *testing.T, userID string, lines ...OrderLineInput) CreateOrderInput {
	t.Helper()
	itemsPrice := decimal.Zero
	for _, l := range lines {
		p, err := f.store.GetProduct(context.Background(), l.ProductRef)
		if err == nil {
			itemsPrice = itemsPrice.Add(p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
	}
	shipping := decimal.NewFromInt(2500)
	return CreateOrderInput{
		UserID: userID,
		Items:  lines,
		ShippingAddress: model.ShippingAddress{
			FullName: "Thoko Banda",
			Phone:    "+265999000111",
			Street:   "Area 47",
			City:     "Lilongwe",
			District: "Lilongwe",
		},
		PaymentMethod: model.PaymentMethodAirtelMoney,
		ItemsPrice:    itemsPrice,
		ShippingPrice: shipping,
		TotalPrice:    itemsPrice.Add(shipping),
	}
}

// pendingOrder creates an order and attaches a payment reference as Initiate would.
func (f *fixture) pendingOrder(t *testing.T, txRef string) *model.Order {
	t.Helper()
	f.seed("sku-"+txRef, 1000, 10)
	o, err := f.orderSvc.CreateOrder(context.Background(), f.orderInput(t, "user-1", OrderLineInput{ProductRef: "sku-" + txRef, Quantity: 1}))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if txRef == "" {
		return o
	}
	expected := o.Version
	o.AttachPaymentReference(txRef, o.CreatedAt)
	if err := f.orders.Replace(context.Background(), o, expected); err != nil {
		t.Fatalf("attach reference: %v", err)
	}
	return o
}
