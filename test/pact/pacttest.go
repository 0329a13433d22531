//go:build pact
// +build pact

package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

const (
	ProviderName = "order-service"
	ConsumerName = "ops-console"

	StateOrdersBaseline = "orders baseline"
	StateOrderExists    = "order O-PACT-1 exists"
	StateOrderMissing   = "no order O-MISSING"
	StateSagaStuck      = "the saga of order O-PACT-1 is stuck"
)

const (
	ExistingOrderID = "O-PACT-1"
	MissingOrderID  = "O-MISSING"
	CustomerID      = "C-PACT"
	ShopID          = "S-PACT"
	StuckReason     = "payment.charge.requested unanswered after 3 retries"
)

// PactDir returns the workspace-level directory for generated pact files.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

// PactFile returns the canonical pact file path for the ops console consumer.
func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

// LogDir returns the log output directory for pact-go.
func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

// ExamplePlaceOrderPayload provides stable request data for order placement.
func ExamplePlaceOrderPayload() map[string]any {
	return map[string]any{
		"customerId": CustomerID,
		"shopId":     ShopID,
		"items": []map[string]any{
			{"serviceName": "dry cleaning", "quantity": 2, "unitPrice": "20"},
		},
		"taxAmount": "2",
	}
}

// projectRoot walks up from this file to the workspace root.
func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
