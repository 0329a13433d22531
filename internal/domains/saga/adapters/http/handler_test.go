package sagahttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/domains/saga/adapters/http/mapper"
	sagadomain "github.com/Apurer/order-saga/internal/domains/saga/domain"
	sagaports "github.com/Apurer/order-saga/internal/domains/saga/ports"
)

type fakeService struct {
	sagas map[string]*sagadomain.Saga
}

func (f *fakeService) Get(_ context.Context, orderID string) (*sagadomain.Saga, error) {
	s, ok := f.sagas[orderID]
	if !ok {
		return nil, sagaports.ErrNotFound
	}
	return s, nil
}

func (f *fakeService) ListStuck(_ context.Context, limit int) ([]*sagadomain.Saga, error) {
	var out []*sagadomain.Saga
	for _, s := range f.sagas {
		if s.Status == sagadomain.StatusStuck && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeService) Resume(_ context.Context, orderID string) (*sagadomain.Saga, error) {
	s, ok := f.sagas[orderID]
	if !ok {
		return nil, sagaports.ErrNotFound
	}
	if s.Status != sagadomain.StatusStuck {
		return nil, sagadomain.ErrNotStuck
	}
	s.Status = sagadomain.StatusRunning
	return s, nil
}

func (f *fakeService) Compensate(_ context.Context, orderID string) (*sagadomain.Saga, error) {
	s, ok := f.sagas[orderID]
	if !ok {
		return nil, sagaports.ErrNotFound
	}
	if s.Status != sagadomain.StatusStuck {
		return nil, sagadomain.ErrNotStuck
	}
	if s.PaymentStatus == sagadomain.PaymentRefundRequested {
		return nil, sagadomain.ErrRefundInFlight
	}
	s.Status = sagadomain.StatusCompensated
	return s, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{sagas: map[string]*sagadomain.Saga{
		"O1": {OrderID: "O1", Status: sagadomain.StatusStuck, Amount: decimal.NewFromInt(42), StuckReason: "no reply"},
		"O2": {OrderID: "O2", Status: sagadomain.StatusRunning, Amount: decimal.NewFromInt(10)},
	}}
	router := gin.New()
	NewSagaAPI(svc).Register(router)
	return router
}

func get(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestListStuck(t *testing.T) {
	rec := get(newRouter(), http.MethodGet, "/v1/sagas/stuck")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []mapper.Saga
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "O1", out[0].OrderID)
	assert.Equal(t, "no reply", out[0].StuckReason)

	assert.Equal(t, http.StatusBadRequest, get(newRouter(), http.MethodGet, "/v1/sagas/stuck?limit=zero").Code)
}

func TestGetAndResume(t *testing.T) {
	router := newRouter()
	assert.Equal(t, http.StatusOK, get(router, http.MethodGet, "/v1/sagas/O2").Code)
	assert.Equal(t, http.StatusNotFound, get(router, http.MethodGet, "/v1/sagas/O9").Code)

	rec := get(router, http.MethodPost, "/v1/sagas/O1/resume")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var out mapper.Saga
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "running", out.Status)

	assert.Equal(t, http.StatusConflict, get(router, http.MethodPost, "/v1/sagas/O2/resume").Code)
}

func TestCompensate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{sagas: map[string]*sagadomain.Saga{
		"O1": {OrderID: "O1", Status: sagadomain.StatusStuck, Amount: decimal.NewFromInt(42)},
		"O2": {OrderID: "O2", Status: sagadomain.StatusRunning, Amount: decimal.NewFromInt(10)},
		"O3": {OrderID: "O3", Status: sagadomain.StatusStuck, PaymentStatus: sagadomain.PaymentRefundRequested, Amount: decimal.NewFromInt(5)},
	}}
	router := gin.New()
	NewSagaAPI(svc).Register(router)

	rec := get(router, http.MethodPost, "/v1/sagas/O1/compensate")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var out mapper.Saga
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "compensated", out.Status)

	assert.Equal(t, http.StatusConflict, get(router, http.MethodPost, "/v1/sagas/O2/compensate").Code)
	assert.Equal(t, http.StatusConflict, get(router, http.MethodPost, "/v1/sagas/O3/compensate").Code)
	assert.Equal(t, http.StatusNotFound, get(router, http.MethodPost, "/v1/sagas/O9/compensate").Code)
}
