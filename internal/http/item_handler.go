package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_food/internal/catalog"
	"github.com/fjod/go_food/internal/service"
)

type ItemHandler struct {
	items   ItemService
	timeout time.Duration
	log     *slog.Logger
}

func NewItemHandler(items ItemService, timeout time.Duration, log *slog.Logger) *ItemHandler {
	return &ItemHandler{items: items, timeout: timeout, log: log}
}

type ItemDTO struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
}

func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "item_id")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	item, err := h.items.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			err = service.ErrItemNotFound
		}
		writeServiceError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ItemDTO{ID: item.ID, Title: item.Title, Price: item.Price.StringFixed(2)})
}
