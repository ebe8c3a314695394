package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CartService interface {
	Cart(ctx context.Context, userID int64) (*service.CartView, error)
	AddItem(ctx context.Context, userID, itemID int64, quantity int) (*service.CartView, error)
	UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*service.CartView, error)
	RemoveLine(ctx context.Context, userID, lineID int64) (*service.CartView, error)
	Clear(ctx context.Context, userID int64) (int, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID int64, req domain.DeliveryRequest) (*domain.Order, error)
}

type OrderService interface {
	History(ctx context.Context, userID int64) ([]service.OrderView, error)
	Get(ctx context.Context, userID int64, orderID uuid.UUID, asStaff bool) (*service.OrderView, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, change service.StatusChange) (*domain.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*domain.Order, error)
}

type PaymentService interface {
	Initiate(ctx context.Context, userID int64, req service.InitiateRequest) (*service.InitiateResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, txRef, reportedStatus string) (*service.ReconcileResult, error)
}

type ItemService interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
}

// requireUser returns the caller or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := principalFrom(r.Context())
	if !ok || p.UserID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return Principal{}, false
	}
	return p, true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: name + " must be a positive integer",
			Code:  string(service.KindInvalidRequest),
			Field: name,
		})
		return 0, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: name + " must be a UUID",
			Code:  string(service.KindInvalidRequest),
			Field: name,
		})
		return uuid.Nil, false
	}
	return id, true
}

func invalidBody(w http.ResponseWriter) {
	respondError(w, http.StatusBadRequest, string(service.KindInvalidRequest), "invalid JSON body")
}
