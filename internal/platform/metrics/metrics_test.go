package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/events"
)

func TestRegistry_CountsAndServes(t *testing.T) {
	r := New("order-service")
	r.EventConsumed("order-service", events.PaymentProcessed, "applied")
	r.EventConsumed("order-service", events.PaymentProcessed, "applied")
	r.PayloadMismatch("order-service", events.PaymentProcessed)
	r.RecordPublished("order.created")
	r.SagaStuck()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.consumed.WithLabelValues("order-service", "payment.processed", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sagaStuck))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ordersaga_order_service_outbox_published_total"))
	assert.True(t, strings.Contains(body, "ordersaga_order_service_event_payload_mismatch_total"))
}

func TestRegistries_AreIndependent(t *testing.T) {
	a := New("a")
	b := New("b")
	a.SagaStuck()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.sagaStuck))
}
