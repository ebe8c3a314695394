package http

import (
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/service"
	"github.com/shopspring/decimal"
)

type LineDTO struct {
	LineID   int64  `json:"line_id"`
	ItemID   *int64 `json:"item_id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	Subtotal string `json:"subtotal"`
	Deleted  bool   `json:"deleted"`
}

func lineDTO(v domain.LineView) LineDTO {
	var itemID *int64
	if !v.IsDeleted() {
		id := v.ItemID
		itemID = &id
	}
	return LineDTO{
		LineID:   v.LineID,
		ItemID:   itemID,
		Title:    v.Title,
		Price:    v.Price.StringFixed(2),
		Quantity: v.Quantity,
		Subtotal: v.Price.Mul(decimal.NewFromInt(int64(v.Quantity))).StringFixed(2),
		Deleted:  v.IsDeleted(),
	}
}

func lineDTOs(views []domain.LineView) []LineDTO {
	out := make([]LineDTO, 0, len(views))
	for _, v := range views {
		out = append(out, lineDTO(v))
	}
	return out
}

type CartDTO struct {
	Items    []LineDTO `json:"items"`
	Total    string    `json:"total"`
	Currency string    `json:"currency"`
}

func cartDTO(c *service.CartView) CartDTO {
	return CartDTO{Items: lineDTOs(c.Lines), Total: c.Total.StringFixed(2), Currency: domain.Currency}
}

type OrderDTO struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	TotalPrice       string     `json:"total_price"`
	Currency         string     `json:"currency"`
	DeliveryOption   string     `json:"delivery_option"`
	PickupBranch     string     `json:"pickup_branch,omitempty"`
	PickupBranchName string     `json:"pickup_branch_name,omitempty"`
	PickupTime       *time.Time `json:"pickup_time,omitempty"`
	DeliveryAddress  string     `json:"delivery_address,omitempty"`
	Latitude         *string    `json:"latitude,omitempty"`
	Longitude        *string    `json:"longitude,omitempty"`
	DeliveryTime     *time.Time `json:"delivery_time,omitempty"`
	CancelReason     string     `json:"cancel_reason,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	AdminNotes       string     `json:"admin_notes,omitempty"`
	PaymentTxRef     string     `json:"payment_tx_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Items            []LineDTO  `json:"items"`
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func orderDTO(o *domain.Order, lines []domain.LineView) OrderDTO {
	dto := OrderDTO{
		ID:              o.ID.String(),
		Status:          o.Status.String(),
		TotalPrice:      o.TotalPrice.StringFixed(2),
		Currency:        domain.Currency,
		DeliveryOption:  string(o.Delivery.Option),
		PickupBranch:    o.Delivery.PickupBranch,
		PickupTime:      o.Delivery.PickupTime,
		DeliveryAddress: o.Delivery.DeliveryAddress,
		Latitude:        decimalString(o.Delivery.Latitude),
		Longitude:       decimalString(o.Delivery.Longitude),
		DeliveryTime:    o.Delivery.DeliveryTime,
		CancelReason:    o.CancelReason,
		CancelledAt:     o.CancelledAt,
		DeliveredAt:     o.DeliveredAt,
		AdminNotes:      o.AdminNotes,
		PaymentTxRef:    o.PaymentTxRef,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           lineDTOs(lines),
	}
	if name, ok := domain.BranchName(o.Delivery.PickupBranch); ok {
		dto.PickupBranchName = name
	}
	return dto
}

func orderViewDTO(v service.OrderView) OrderDTO {
	return orderDTO(v.Order, v.Lines)
}

// orderLines renders the lines of a freshly written order.
func orderLines(o *domain.Order) []domain.LineView {
	views := make([]domain.LineView, 0, len(o.Lines))
	for _, l := range o.Lines {
		views = append(views, l.View())
	}
	return views
}
