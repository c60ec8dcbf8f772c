// handlers_orders.go - Order number lookup handlers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// OrderHandlerImpl implements the OrderHandler interface
type OrderHandlerImpl struct {
	resolver OrderChecker
}

// NewOrderHandler creates a new order handler instance
func NewOrderHandler(resolver OrderChecker) OrderHandler {
	return &OrderHandlerImpl{resolver: resolver}
}

// HandleCheckOrders partitions a comma-separated order-number list into
// existing, missing and invalid sets.
func (h *OrderHandlerImpl) HandleCheckOrders(c echo.Context) error {
	raw := c.QueryParam("numbers")
	if strings.TrimSpace(raw) == "" {
		return NewValidationError("numbers")
	}

	result, err := h.resolver.CheckExistence(c.Request().Context(), strings.Split(raw, ","))
	if err != nil {
		return NewInternalError("order lookup failed", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"message": "order check complete",
		"data":    result,
	})
}
