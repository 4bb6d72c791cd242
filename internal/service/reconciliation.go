package service

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/metrics"
	"order-fulfillment-service/internal/model"
)

type ReportSource string

const (
	SourceCallback ReportSource = "callback"
	SourceVerify   ReportSource = "verify"
	SourceInitiate ReportSource = "initiate"
	SourceQueue    ReportSource = "queue"
	SourceManual   ReportSource = "manual"
)

const (
	reconcileAttempts = 8
	reconcileBackoff  = 5 * time.Millisecond
)

// Report is one observation of a payment attempt. Status is the raw gateway value.
type Report struct {
	TxRef         string
	Status        string
	TransactionID string
	Source        ReportSource
}

type Outcome struct {
	Applied       bool
	Stale         bool
	Order         *model.Order
	PaymentStatus model.PaymentStatus
}

type ReconcilerOptions struct {
	// AutoProcess moves a freshly paid order straight to processing in the same write.
	// Reports from SourceManual never auto-process.
	AutoProcess bool
}

// Reconciler merges payment reports from every channel into the order. Reports may
// arrive in any order and more than once; only a report that outranks the recorded
// status changes anything.
type Reconciler struct {
	orders   OrderRepository
	notifier NotificationDispatcher
	log      *zap.Logger
	metrics  *metrics.Metrics
	opts     ReconcilerOptions
	clock    clock
}

func NewReconciler(orders OrderRepository, notifier NotificationDispatcher, log *zap.Logger, m *metrics.Metrics, opts ReconcilerOptions) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{orders: orders, notifier: notifier, log: log, metrics: m, opts: opts}
}

type postCommit func(ctx context.Context)

func (r *Reconciler) Reconcile(ctx context.Context, rep Report) (*Outcome, error) {
	if rep.TxRef == "" {
		return nil, apperr.Validation("tx_ref", "is required")
	}
	status := model.NormalizePaymentStatus(rep.Status)
	log := logging.FromContext(ctx, r.log).With(
		zap.String("tx_ref", rep.TxRef),
		zap.String("source", string(rep.Source)),
		zap.String("reported_status", string(status)))

	var lastErr error
	for attempt := 1; attempt <= reconcileAttempts; attempt++ {
		o, err := r.orders.FindByTxRef(ctx, rep.TxRef)
		if err != nil {
			r.metrics.Reconciliation(string(rep.Source), string(apperr.KindOf(err)))
			return nil, err
		}

		outcome, effect, err := r.merge(ctx, o, rep, status)
		if err == nil {
			if outcome.Stale {
				r.metrics.Reconciliation(string(rep.Source), "stale")
				log.Info("reconcile_stale", zap.String("order_id", o.ID), zap.Error(&apperr.StaleReportError{
					TxRef: rep.TxRef, Reported: string(status), Recorded: string(outcome.PaymentStatus),
				}))
			} else {
				r.metrics.Reconciliation(string(rep.Source), "applied")
				log.Info("reconcile_applied",
					zap.String("order_id", o.ID),
					zap.String("order_status", string(o.Status)),
					zap.Int("attempt", attempt))
			}
			if effect != nil {
				effect(ctx)
			}
			return outcome, nil
		}
		if !apperr.IsConcurrentModification(err) {
			r.metrics.Reconciliation(string(rep.Source), "error")
			return nil, err
		}
		lastErr = err
		log.Debug("reconcile_conflict", zap.String("order_id", o.ID), zap.Int("attempt", attempt))
		if err := sleepJitter(ctx, reconcileBackoff); err != nil {
			return nil, err
		}
	}
	r.metrics.Reconciliation(string(rep.Source), "conflict")
	return nil, lastErr
}

// merge computes and persists the new order state for one report. The returned
// effect runs only after the write committed.
func (r *Reconciler) merge(ctx context.Context, o *model.Order, rep Report, status model.PaymentStatus) (*Outcome, postCommit, error) {
	now := r.clock.now()
	expected := o.Version
	recorded := o.PaymentResult.ExternalStatus
	current := o.PaymentResult.ExternalRef == rep.TxRef

	stale := status.Precedence() <= recorded.Precedence()
	if !current {
		// a superseded attempt only matters if it actually took the money
		stale = status != model.PaymentSuccess || recorded == model.PaymentSuccess
	}
	if stale {
		txID := rep.TransactionID
		if !current {
			txID = ""
		}
		audited := o.Clone()
		audited.TouchPaymentAudit(txID, now)
		// precedence only rises, so a stale report stays stale; losing the audit race is harmless
		err := r.orders.Replace(ctx, audited, expected)
		switch {
		case err == nil:
			o = audited
		case !apperr.IsConcurrentModification(err):
			return nil, nil, err
		}
		return &Outcome{Stale: true, Order: o, PaymentStatus: recorded}, nil, nil
	}

	from := o.Status
	o.RecordPaymentStatus(rep.TxRef, status, rep.TransactionID, now)

	var effect postCommit
	if status == model.PaymentSuccess {
		switch o.Status {
		case model.StatusPending:
			note := "Payment confirmed via " + string(rep.Source)
			if err := o.Transition(model.StatusPaid, note, systemActor, now); err != nil {
				return nil, nil, err
			}
			// manual confirmations stop at paid
			if r.opts.AutoProcess && rep.Source != SourceManual {
				note = "Payment confirmed, order queued for processing"
				if err := o.Transition(model.StatusProcessing, note, systemActor, now); err != nil {
					return nil, nil, err
				}
			}
			effect = func(ctx context.Context) { r.notifier.OrderStatusChanged(ctx, o, from, note) }
		case model.StatusCancelled:
			effect = func(ctx context.Context) {
				logging.FromContext(ctx, r.log).Warn("payment_after_cancellation",
					zap.String("order_id", o.ID), zap.String("tx_ref", rep.TxRef))
				r.notifier.PaymentAfterCancellation(ctx, o)
			}
		}
	}

	if err := r.orders.Replace(ctx, o, expected); err != nil {
		return nil, nil, err
	}
	return &Outcome{Applied: true, Order: o, PaymentStatus: status}, effect, nil
}

func sleepJitter(ctx context.Context, base time.Duration) error {
	d := base + time.Duration(rand.Int64N(int64(base)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
