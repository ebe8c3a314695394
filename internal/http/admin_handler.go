package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/service"
)

type AdminHandler struct {
	orders  OrderService
	timeout time.Duration
	log     *slog.Logger
}

func NewAdminHandler(orders OrderService, timeout time.Duration, log *slog.Logger) *AdminHandler {
	return &AdminHandler{orders: orders, timeout: timeout, log: log}
}

type UpdateStatusRequestDTO struct {
	Status       string  `json:"status"`
	CancelReason string  `json:"cancel_reason"`
	AdminNotes   *string `json:"admin_notes"`
}

type CancelRequestDTO struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "order_id")
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: string(service.KindInvalidRequest), Field: "status"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.UpdateStatus(ctx, orderID, service.StatusChange{
		Status:       status,
		CancelReason: req.CancelReason,
		AdminNotes:   req.AdminNotes,
	})
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	if p, ok := principalFrom(r.Context()); ok {
		h.log.InfoContext(ctx, "admin changed order status", "staff_id", p.UserID, "order_id", order.ID, "status", order.Status)
	}
	respondJSON(w, http.StatusOK, orderDTO(order, orderLines(order)))
}

func (h *AdminHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "order_id")
	if !ok {
		return
	}
	var req CancelRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.Cancel(ctx, orderID, req.Reason)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orderDTO(order, orderLines(order)))
}
