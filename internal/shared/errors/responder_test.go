package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

var errMissing = errors.New("missing")

func respond(t *testing.T, r *ChainedResponder, err error) (int, ProblemDetail) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/things/1", nil)
	r.RespondError(c, err)

	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return rec.Code, problem
}

func TestChainedResponder_MapsFaults(t *testing.T) {
	r := NewChainedResponder("", Maps(ErrNotFound, errMissing), FaultMapper)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("load: %w", errMissing), http.StatusNotFound},
		{faults.Transition("order", "delivered", "cancelled"), http.StatusConflict},
		{faults.ErrConcurrentUpdate, http.StatusConflict},
		{faults.ErrAmountMismatch, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, problem := respond(t, r, tc.err)
		assert.Equal(t, tc.want, code, tc.err.Error())
		assert.Equal(t, tc.want, problem.Status)
		assert.Equal(t, "/v1/things/1", problem.Instance)
	}
}

func TestResponder_PrefixesBaseURI(t *testing.T) {
	r := NewChainedResponder("https://errors.example.com", FaultMapper)
	_, problem := respond(t, r, faults.ErrAmountMismatch)
	assert.Equal(t, "https://errors.example.com"+TypeAmountMismatch, problem.Type)
}

func TestChainedResponder_ProblemPassesThrough(t *testing.T) {
	r := NewChainedResponder("", FaultMapper)
	code, problem := respond(t, r, fmt.Errorf("resume: %w", ErrNotFound.WithDetail("saga O1")))
	assert.Equal(t, 404, code)
	assert.Equal(t, TypeNotFound, problem.Type)
	assert.Equal(t, "saga O1", problem.Detail)
}

func TestProblemDetail_WithExtensionCopies(t *testing.T) {
	base := ErrValidation.WithExtension("field", "items")
	derived := base.WithExtension("field", "taxAmount")
	assert.Equal(t, "items", base.Extensions["field"])
	assert.Equal(t, "taxAmount", derived.Extensions["field"])
	assert.Nil(t, ErrValidation.Extensions)
}
