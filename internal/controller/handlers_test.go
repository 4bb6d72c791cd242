package controller

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/dto"
	"order-fulfillment-service/internal/gateway"
	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/middleware"
	"order-fulfillment-service/internal/model"
	"order-fulfillment-service/internal/repository"
	"order-fulfillment-service/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tokens map[string]service.User

func (t tokens) ValidateToken(_ context.Context, token string) (*service.User, error) {
	u, ok := t[token]
	if !ok {
		return nil, service.ErrInvalidToken
	}
	return &u, nil
}

type stubGateway struct {
	status string
}

func (g *stubGateway) Initiate(_ context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	return &gateway.CheckoutSession{CheckoutURL: "https://pay.example/" + req.TxRef, TxRef: req.TxRef}, nil
}

func (g *stubGateway) Verify(_ context.Context, txRef string) (*gateway.Verification, error) {
	return &gateway.Verification{TxRef: txRef, Status: g.status, TransactionID: "pc-1"}, nil
}

type testServer struct {
	engine *gin.Engine
	store  *repository.MemoryStore
	gw     *stubGateway
}

func setupServer(t *testing.T, webhookSecret string) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	store.SeedProduct(model.Product{ID: "p1", Name: "Chitenje", Price: decimal.NewFromInt(1500), Stock: 5})

	orders := repository.NewMemoryOrders(store)
	reservations := repository.NewMemoryReservations(store)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")
	notifier := service.NewEventNotifier(service.NewLogPublisher(zap.NewNop()), nil, m)
	inventory := service.NewInventoryCoordinator(store, reservations, nil, m)
	machine := service.NewStateMachine(orders, inventory, notifier, nil)
	reconciler := service.NewReconciler(orders, notifier, nil, m, service.ReconcilerOptions{AutoProcess: true})
	gw := &stubGateway{status: "successful"}
	payments := service.NewPaymentService(orders, gw, reconciler, machine, service.PaymentOptions{Currency: "MWK"}, nil)
	orderSvc := service.NewOrderService(orders, store, inventory, machine, notifier, nil)

	engine := NewRouter(RouterDeps{
		Orders:   NewOrderController(orderSvc, payments),
		Payments: NewPaymentController(payments, reconciler),
		Auth: tokens{
			"alice": {ID: "u-alice", Name: "Alice Phiri", Email: "alice@example.com"},
			"bob":   {ID: "u-bob"},
			"admin": {ID: "u-admin", Role: "admin"},
		},
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookSecret:  webhookSecret,
	})
	return &testServer{engine: engine, store: store, gw: gw}
}

func doJSON(t *testing.T, s *testServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func orderBody(qty int) map[string]any {
	items := decimal.NewFromInt(int64(1500 * qty))
	return map[string]any{
		"items": []map[string]any{{"product": "p1", "quantity": qty}},
		"shippingAddress": map[string]any{
			"fullName": "Alice Phiri", "phone": "+265888000111", "street": "Chilomoni",
			"city": "Blantyre", "district": "Blantyre",
		},
		"paymentMethod": "mpamba",
		"itemsPrice":    items,
		"shippingPrice": 500,
		"totalPrice":    items.Add(decimal.NewFromInt(500)),
	}
}

func createOrder(t *testing.T, s *testServer, token string, qty int) *model.Order {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/orders", token, orderBody(qty))
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	o := decode[model.Order](t, w)
	return &o
}

func TestCreateOrderFlow(t *testing.T) {
	s := setupServer(t, "")

	if w := doJSON(t, s, http.MethodPost, "/orders", "", orderBody(1)); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: %d", w.Code)
	}

	o := createOrder(t, s, "alice", 2)
	if o.Status != model.StatusPending || o.UserID != "u-alice" {
		t.Fatalf("unexpected order %+v", o)
	}
	if stock, _ := s.store.GetStock(context.Background(), "p1"); stock != 3 {
		t.Fatalf("expected stock 3, got %d", stock)
	}

	w := doJSON(t, s, http.MethodPost, "/orders", "alice", orderBody(10))
	if w.Code != http.StatusBadRequest || decode[dto.ErrorResponse](t, w).Error.Kind != "insufficient_stock" {
		t.Fatalf("oversell: %d %s", w.Code, w.Body.String())
	}

	bad := orderBody(1)
	bad["totalPrice"] = 1
	w = doJSON(t, s, http.MethodPost, "/orders", "alice", bad)
	if w.Code != http.StatusBadRequest || decode[dto.ErrorResponse](t, w).Error.Kind != "validation_error" {
		t.Fatalf("bad price: %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, s, http.MethodGet, "/orders/"+o.ID, "bob", nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign order: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/orders/"+o.ID, "admin", nil); w.Code != http.StatusOK {
		t.Fatalf("admin view: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/orders/missing", "alice", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", w.Code)
	}

	for _, path := range []string{"/orders/myorders", "/orders/mine"} {
		w = doJSON(t, s, http.MethodGet, path, "alice", nil)
		if w.Code != http.StatusOK || len(decode[[]model.Order](t, w)) != 1 {
			t.Fatalf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}
}

func TestAdminStatusUpdates(t *testing.T) {
	s := setupServer(t, "")
	o := createOrder(t, s, "alice", 2)

	if w := doJSON(t, s, http.MethodPatch, "/orders/"+o.ID+"/status", "alice", map[string]any{"status": "cancelled"}); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin update: %d", w.Code)
	}

	stale := o.Version - 1
	w := doJSON(t, s, http.MethodPatch, "/orders/"+o.ID+"/status", "admin", map[string]any{"status": "cancelled", "version": stale})
	if w.Code != http.StatusConflict || decode[dto.ErrorResponse](t, w).Error.Kind != "concurrent_modification" {
		t.Fatalf("stale version: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPatch, "/orders/"+o.ID+"/status", "admin", map[string]any{"status": "cancelled", "note": "customer request", "version": o.Version})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	cancelled := decode[model.Order](t, w)
	if cancelled.Status != model.StatusCancelled || cancelled.CancellationReason != "customer request" {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	if stock, _ := s.store.GetStock(context.Background(), "p1"); stock != 5 {
		t.Fatalf("stock must be restored, got %d", stock)
	}

	w = doJSON(t, s, http.MethodPatch, "/orders/"+o.ID+"/status", "admin", map[string]any{"status": "pending"})
	if w.Code != http.StatusConflict || decode[dto.ErrorResponse](t, w).Error.Kind != "invalid_transition" {
		t.Fatalf("invalid transition: %d %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, s, http.MethodGet, "/orders", "alice", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin list: %d", w.Code)
	}
	for _, path := range []string{"/orders", "/admin/orders"} {
		w = doJSON(t, s, http.MethodGet, path+"?status=cancelled&limit=5", "admin", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, w.Code)
		}
		list := decode[dto.OrderListResponse](t, w)
		if list.Pagination.Total != 1 || list.Pagination.Limit != 5 || len(list.Orders) != 1 {
			t.Fatalf("unexpected list %+v", list.Pagination)
		}
	}
}

func TestPaymentFlow(t *testing.T) {
	s := setupServer(t, "")
	o := createOrder(t, s, "alice", 1)

	w := doJSON(t, s, http.MethodPost, "/payments/initiate", "alice", map[string]any{"orderId": o.ID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mobile money without phone: %d %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodPost, "/payments/initiate", "bob", map[string]any{"orderId": o.ID, "phone": "0888"}); w.Code != http.StatusForbidden {
		t.Fatalf("foreign initiate: %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/payments/initiate", "alice", map[string]any{"orderId": o.ID, "phone": "0888000111"})
	if w.Code != http.StatusOK {
		t.Fatalf("initiate: %d %s", w.Code, w.Body.String())
	}
	initiated := decode[dto.InitiatePaymentResponse](t, w)
	if initiated.TxRef == "" || initiated.RedirectURL == "" {
		t.Fatalf("unexpected initiate response %+v", initiated)
	}

	callback := map[string]any{"tx_ref": initiated.TxRef, "status": "success", "transaction_id": 771234}
	for i := 0; i < 2; i++ {
		if w := doJSON(t, s, http.MethodPost, "/payments/callback", "", callback); w.Code != http.StatusOK {
			t.Fatalf("callback %d: %d %s", i, w.Code, w.Body.String())
		}
	}

	w = doJSON(t, s, http.MethodGet, "/payments/verify/"+initiated.TxRef, "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	verified := decode[dto.PaymentStatusResponse](t, w)
	if verified.Applied || verified.PaymentStatus != model.PaymentSuccess {
		t.Fatalf("verify after callback must be stale, got %+v", verified)
	}
	if verified.Order.Status != model.StatusProcessing || !verified.Order.IsPaid {
		t.Fatalf("unexpected order %s paid=%v", verified.Order.Status, verified.Order.IsPaid)
	}

	w = doJSON(t, s, http.MethodPost, "/payments/callback", "", map[string]any{"tx_ref": "ORDER-unknown", "status": "success"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown tx_ref: %d", w.Code)
	}
}

func TestCallbackSignature(t *testing.T) {
	s := setupServer(t, "hook-secret")
	o := createOrder(t, s, "alice", 1)
	w := doJSON(t, s, http.MethodPost, "/payments/initiate", "alice", map[string]any{"orderId": o.ID, "phone": "0888000111"})
	txRef := decode[dto.InitiatePaymentResponse](t, w).TxRef

	body, _ := json.Marshal(map[string]any{"tx_ref": txRef, "status": "success"})
	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("deadbeef"); code != http.StatusUnauthorized {
		t.Fatalf("bad signature: %d", code)
	}
	if code := send(hex.EncodeToString(middleware.Sign("hook-secret", body))); code != http.StatusOK {
		t.Fatalf("good signature: %d", code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	s := setupServer(t, "")
	if w := doJSON(t, s, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	createOrder(t, s, "alice", 1)
	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("test_reservations_total")) {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestAdminMarkPaidStopsAtPaid(t *testing.T) {
	s := setupServer(t, "")
	o := createOrder(t, s, "alice", 1)
	if w := doJSON(t, s, http.MethodPost, "/payments/initiate", "alice", map[string]any{"orderId": o.ID, "phone": "0888000111"}); w.Code != http.StatusOK {
		t.Fatalf("initiate: %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, s, http.MethodPatch, "/orders/"+o.ID+"/payment", "admin", map[string]any{"transactionId": "bank-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("mark paid: %d %s", w.Code, w.Body.String())
	}
	paid := decode[model.Order](t, w)
	if paid.Status != model.StatusPaid || !paid.IsPaid || paid.PaymentResult.TransactionID != "bank-1" {
		t.Fatalf("unexpected order %s paid=%v tx=%s", paid.Status, paid.IsPaid, paid.PaymentResult.TransactionID)
	}
}
