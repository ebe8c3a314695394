package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_food/internal/domain"
)

type OrdersHandler struct {
	checkout CheckoutService
	orders   OrderService
	timeout  time.Duration
	log      *slog.Logger
}

func NewOrdersHandler(checkout CheckoutService, orders OrderService, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{checkout: checkout, orders: orders, timeout: timeout, log: log}
}

// Checkout places a pay-on-delivery or pickup order from the caller's cart.
func (h *OrdersHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.DeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.checkout.Checkout(ctx, p.UserID, req)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, orderDTO(order, orderLines(order)))
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	views, err := h.orders.History(ctx, p.UserID)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	out := make([]OrderDTO, 0, len(views))
	for _, v := range views {
		out = append(out, orderViewDTO(v))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": out})
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "order_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.orders.Get(ctx, p.UserID, orderID, p.IsStaff)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderViewDTO(*view))
}
