package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreLabelled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "orders")

	m.Reconciliation("callback", "applied")
	m.Reconciliation("callback", "applied")
	m.Reconciliation("verify", "stale")

	if got := testutil.ToFloat64(m.reconciliation.WithLabelValues("callback", "applied")); got != 2 {
		t.Fatalf("expected 2 applied callbacks, got %v", got)
	}
	if got := testutil.ToFloat64(m.reconciliation.WithLabelValues("verify", "stale")); got != 1 {
		t.Fatalf("expected 1 stale verify, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Reservation("ok")
	m.GatewayRequest("verify", "ok", 0.1)
	m.Notification("order.created", "ok")
	m.HTTPRequest("/orders", "POST", "201", 0.01)
}
