// Package notificationhttp serves a user's notification inbox over gin.
package notificationhttp

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Apurer/order-saga/internal/domains/notifications/adapters/http/mapper"
	notificationports "github.com/Apurer/order-saga/internal/domains/notifications/ports"
	apierrors "github.com/Apurer/order-saga/internal/shared/errors"
)

type NotificationAPI struct {
	service   notificationports.Service
	responder *apierrors.ChainedResponder
}

func NewNotificationAPI(service notificationports.Service) *NotificationAPI {
	return &NotificationAPI{
		service: service,
		responder: apierrors.NewChainedResponder("",
			apierrors.Maps(apierrors.ErrNotFound, notificationports.ErrNotFound),
		),
	}
}

// Register mounts the notification routes on r.
func (api *NotificationAPI) Register(r gin.IRouter) {
	r.GET("/v1/users/:userId/notifications", api.ListForUser)
	r.POST("/v1/notifications/:notificationId/read", api.MarkRead)
}

// Get /v1/users/:userId/notifications?unread=true&limit=n
func (api *NotificationAPI) ListForUser(c *gin.Context) {
	var filter notificationports.ListFilter
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			api.responder.BadRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("unread"); raw != "" {
		unread, err := strconv.ParseBool(raw)
		if err != nil {
			api.responder.BadRequest(c, "unread must be a boolean")
			return
		}
		filter.UnreadOnly = unread
	}
	list, err := api.service.ListForUser(c.Request.Context(), c.Param("userId"), filter)
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainNotifications(list))
}

// Post /v1/notifications/:notificationId/read
func (api *NotificationAPI) MarkRead(c *gin.Context) {
	n, err := api.service.MarkRead(c.Request.Context(), c.Param("notificationId"))
	if err != nil {
		api.responder.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapper.FromDomainNotification(n))
}
