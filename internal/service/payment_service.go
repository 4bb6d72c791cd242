package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/gateway"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/model"
)

type PaymentGateway interface {
	Initiate(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
	Verify(ctx context.Context, txRef string) (*gateway.Verification, error)
}

// sharedVerifyTimeout bounds a collapsed verify call that no caller can cancel.
const sharedVerifyTimeout = 30 * time.Second

type PaymentOptions struct {
	Currency    string
	CallbackURL string
	// ReturnURLBase gets "/orders/{id}" appended.
	ReturnURLBase string
	StoreName     string
}

type InitiatePaymentInput struct {
	OrderID string
	Phone   string
	User    User
}

type InitiatePaymentResult struct {
	RedirectURL string
	TxRef       string
}

type PaymentService struct {
	orders     OrderRepository
	gateway    PaymentGateway
	reconciler *Reconciler
	machine    *StateMachine
	opts       PaymentOptions
	log        *zap.Logger
	verifies   singleflight.Group
	clock      clock
}

func NewPaymentService(orders OrderRepository, gw PaymentGateway, reconciler *Reconciler, machine *StateMachine, opts PaymentOptions, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Currency == "" {
		opts.Currency = "MWK"
	}
	return &PaymentService{orders: orders, gateway: gw, reconciler: reconciler, machine: machine, opts: opts, log: log}
}

// Initiate opens a checkout session. The txRef is stored on the order before the
// gateway is called, so a report can always be matched to its order.
func (ps *PaymentService) Initiate(ctx context.Context, in InitiatePaymentInput) (*InitiatePaymentResult, error) {
	o, err := ps.orders.FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != in.User.ID {
		return nil, apperr.Forbidden("not authorized to pay for this order")
	}
	if o.Status != model.StatusPending || o.IsPaid {
		return nil, apperr.Conflict(fmt.Sprintf("order in status %s cannot be paid", o.Status))
	}
	phone := strings.TrimSpace(in.Phone)
	if o.PaymentMethod.IsMobileMoney() && phone == "" {
		return nil, apperr.Validation("phone", "is required for mobile money payments")
	}

	txRef, err := ps.paymentReference(ctx, o)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx, ps.log).With(zap.String("order_id", o.ID), zap.String("tx_ref", txRef))
	first, last := splitName(in.User.Name, o.ShippingAddress.FullName)
	title := fmt.Sprintf("Order #%s", o.OrderNumber)
	req := gateway.CheckoutRequest{
		TxRef:       txRef,
		Amount:      o.TotalPrice,
		Currency:    ps.opts.Currency,
		Email:       in.User.Email,
		FirstName:   first,
		LastName:    last,
		CallbackURL: ps.opts.CallbackURL,
		ReturnURL:   strings.TrimRight(ps.opts.ReturnURLBase, "/") + "/orders/" + o.ID,
		Title:       title,
		Description: fmt.Sprintf("Payment for order %s", o.OrderNumber),
	}
	if ps.opts.StoreName != "" {
		req.Title = ps.opts.StoreName + " " + title
	}
	if o.PaymentMethod.IsMobileMoney() {
		req.Phone = phone
	}

	session, err := ps.gateway.Initiate(ctx, req)
	if err != nil {
		log.Warn("payment_initiate_failed", zap.Error(err))
		return nil, err
	}

	if _, err := ps.reconciler.Reconcile(ctx, Report{TxRef: txRef, Status: string(model.PaymentPending), Source: SourceInitiate}); err != nil {
		// the checkout session exists; callbacks and verify will still find the order
		log.Warn("payment_pending_not_recorded", zap.Error(err))
	}
	log.Info("payment_initiated")
	return &InitiatePaymentResult{RedirectURL: session.CheckoutURL, TxRef: txRef}, nil
}

// paymentReference reuses a reference the gateway has never acknowledged and
// otherwise persists a fresh one.
func (ps *PaymentService) paymentReference(ctx context.Context, o *model.Order) (string, error) {
	if ref := o.PaymentResult.ExternalRef; ref != "" && o.PaymentResult.ExternalStatus == model.PaymentUnknown {
		return ref, nil
	}
	now := ps.clock.now()
	txRef := fmt.Sprintf("ORDER-%s-%d", o.ID, now.UnixMilli())
	expected := o.Version
	o.AttachPaymentReference(txRef, now)
	if err := ps.orders.Replace(ctx, o, expected); err != nil {
		return "", err
	}
	return txRef, nil
}

// Verify polls the gateway and merges the answer. Concurrent polls for the same
// txRef share one gateway call.
func (ps *PaymentService) Verify(ctx context.Context, txRef string, user User) (*Outcome, error) {
	o, err := ps.orders.FindByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if o.UserID != user.ID && !user.IsAdmin() {
		return nil, apperr.Forbidden("not authorized to verify this payment")
	}

	v, err, _ := ps.verifies.Do(txRef, func() (any, error) {
		// the call is shared, so it must outlive the caller that started it
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedVerifyTimeout)
		defer cancel()
		return ps.gateway.Verify(callCtx, txRef)
	})
	if err != nil {
		return nil, err
	}
	verification := v.(*gateway.Verification)

	return ps.reconciler.Reconcile(ctx, Report{
		TxRef:         txRef,
		Status:        verification.Status,
		TransactionID: verification.TransactionID,
		Source:        SourceVerify,
	})
}

// MarkPaid is the manual override for payments confirmed outside the gateway.
// Orders with a payment reference go through reconciliation like any other report.
// Either way the order stops at paid; processing is left to the admin.
func (ps *PaymentService) MarkPaid(ctx context.Context, orderID, transactionID string, actor User) (*model.Order, error) {
	o, err := ps.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ref := o.PaymentResult.ExternalRef; ref != "" {
		out, err := ps.reconciler.Reconcile(ctx, Report{
			TxRef:         ref,
			Status:        string(model.PaymentSuccess),
			TransactionID: transactionID,
			Source:        SourceManual,
		})
		if err != nil {
			return nil, err
		}
		return out.Order, nil
	}
	if o.IsPaid {
		return o, nil
	}
	return ps.machine.TransitionLatest(ctx, orderID, model.StatusPaid, "Payment confirmed manually", actor.ID)
}

func splitName(name, fallback string) (string, string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		fields = strings.Fields(fallback)
	}
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], fields[0]
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
