package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Cart(ctx, p.UserID)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartDTO(cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	if req.ItemID <= 0 {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "item_id must be positive", Code: "invalid_request", Field: "item_id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.AddItem(ctx, p.UserID, req.ItemID, req.Quantity)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cartDTO(cart))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	lineID, ok := pathInt(w, r, "line_id")
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		invalidBody(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.UpdateQuantity(ctx, p.UserID, lineID, req.Quantity)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartDTO(cart))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	lineID, ok := pathInt(w, r, "line_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveLine(ctx, p.UserID, lineID)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cartDTO(cart))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	removed, err := h.carts.Clear(ctx, p.UserID)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
