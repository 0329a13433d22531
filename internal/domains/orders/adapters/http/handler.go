// Package orderhttp exposes the order command API over gin.
package orderhttp

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/domains/orders/adapters/http/mapper"
	ordersapp "github.com/Apurer/order-saga/internal/domains/orders/application"
	orderdomain "github.com/Apurer/order-saga/internal/domains/orders/domain"
	ordersports "github.com/Apurer/order-saga/internal/domains/orders/ports"
	apierrors "github.com/Apurer/order-saga/internal/shared/errors"
)

// OrderAPI wires HTTP transport with the orders bounded context service.
type OrderAPI struct {
	service   ordersports.Service
	responder *apierrors.ChainedResponder
}

// NewOrderAPI creates an OrderAPI backed by the provided service.
func NewOrderAPI(service ordersports.Service) *OrderAPI {
	return &OrderAPI{
		service: service,
		responder: apierrors.NewChainedResponder("",
			apierrors.Maps(apierrors.ErrNotFound, ordersports.ErrNotFound),
			apierrors.Maps(apierrors.ErrValidation, ordersapp.ErrInvalidInput),
			apierrors.FaultMapper,
		),
	}
}

// Register mounts the order routes on r.
func (api *OrderAPI) Register(r gin.IRouter) {
	orders := r.Group("/v1/orders")
	orders.POST("", api.PlaceOrder)
	orders.GET("/by-number/:orderNumber", api.GetOrderByNumber)
	orders.GET("/:orderId", api.GetOrder)
	orders.POST("/:orderId/cancel", api.CancelOrder)
	orders.POST("/:orderId/transitions", api.AdvanceOrder)
	orders.POST("/:orderId/delivery", api.RecordDelivery)
}

// Post /v1/orders
func (api *OrderAPI) PlaceOrder(c *gin.Context) {
	var payload mapper.CreateOrder
	if err := c.ShouldBindJSON(&payload); err != nil {
		api.responder.BadRequest(c, err.Error())
		return
	}
	order, err := api.service.PlaceOrder(c.Request.Context(), mapper.ToNewOrderParams(payload))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.Header("Location", "/v1/orders/"+order.ID)
	c.JSON(http.StatusCreated, mapper.FromDomainOrder(order))
}

// Get /v1/orders/:orderId
func (api *OrderAPI) GetOrder(c *gin.Context) {
	order, err := api.service.GetOrder(c.Request.Context(), c.Param("orderId"))
	api.respondOrder(c, order, err)
}

// Get /v1/orders/by-number/:orderNumber
func (api *OrderAPI) GetOrderByNumber(c *gin.Context) {
	order, err := api.service.GetOrderByNumber(c.Request.Context(), c.Param("orderNumber"))
	api.respondOrder(c, order, err)
}

// Post /v1/orders/:orderId/cancel
func (api *OrderAPI) CancelOrder(c *gin.Context) {
	var payload mapper.CancelOrder
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			api.responder.BadRequest(c, err.Error())
			return
		}
	}
	order, err := api.service.CancelOrder(c.Request.Context(), c.Param("orderId"), payload.Reason)
	api.respondOrder(c, order, err)
}

// Post /v1/orders/:orderId/transitions
// Shop and driver progress updates.
func (api *OrderAPI) AdvanceOrder(c *gin.Context) {
	var payload mapper.Transition
	if err := c.ShouldBindJSON(&payload); err != nil {
		api.responder.BadRequest(c, err.Error())
		return
	}
	next := orderdomain.Status(strings.ToLower(strings.TrimSpace(payload.Status)))
	order, err := api.service.AdvanceOrder(c.Request.Context(), c.Param("orderId"), next, payload.DriverID)
	api.respondOrder(c, order, err)
}

// Post /v1/orders/:orderId/delivery
func (api *OrderAPI) RecordDelivery(c *gin.Context) {
	order, err := api.service.RecordDelivery(c.Request.Context(), c.Param("orderId"))
	api.respondOrder(c, order, err)
}

func (api *OrderAPI) respondOrder(c *gin.Context, order *orderdomain.Order, err error) {
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainOrder(order))
}
