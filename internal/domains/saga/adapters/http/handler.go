// Package sagahttp exposes the saga operator surface over gin.
package sagahttp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/domains/saga/adapters/http/mapper"
	sagadomain "github.com/Apurer/order-saga/internal/domains/saga/domain"
	sagaports "github.com/Apurer/order-saga/internal/domains/saga/ports"
	apierrors "github.com/Apurer/order-saga/internal/shared/errors"
)

const defaultStuckLimit = 50

// SagaAPI lets operators inspect and resume sagas.
type SagaAPI struct {
	service   sagaports.Service
	responder *apierrors.ChainedResponder
}

func NewSagaAPI(service sagaports.Service) *SagaAPI {
	return &SagaAPI{
		service: service,
		responder: apierrors.NewChainedResponder("",
			apierrors.Maps(apierrors.ErrNotFound, sagaports.ErrNotFound),
			apierrors.Maps(apierrors.ErrConflict, sagadomain.ErrNotStuck, sagadomain.ErrNothingPending, sagadomain.ErrRefundInFlight),
			apierrors.FaultMapper,
		),
	}
}

// Register mounts the saga routes on r.
func (api *SagaAPI) Register(r gin.IRouter) {
	sagas := r.Group("/v1/sagas")
	sagas.GET("/stuck", api.ListStuck)
	sagas.GET("/:orderId", api.GetSaga)
	sagas.POST("/:orderId/resume", api.Resume)
	sagas.POST("/:orderId/compensate", api.Compensate)
}

// Get /v1/sagas/stuck
func (api *SagaAPI) ListStuck(c *gin.Context) {
	limit := defaultStuckLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.responder.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	sagas, err := api.service.ListStuck(c.Request.Context(), limit)
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainSagas(sagas))
}

// Get /v1/sagas/:orderId
func (api *SagaAPI) GetSaga(c *gin.Context) {
	saga, err := api.service.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainSaga(saga))
}

// Post /v1/sagas/:orderId/resume
func (api *SagaAPI) Resume(c *gin.Context) {
	saga, err := api.service.Resume(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, mapper.FromDomainSaga(saga))
}

// Post /v1/sagas/:orderId/compensate
func (api *SagaAPI) Compensate(c *gin.Context) {
	saga, err := api.service.Compensate(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, mapper.FromDomainSaga(saga))
}
