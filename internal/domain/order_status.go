package domain

import "fmt"

type OrderStatus string

const (
	OrderStatusActive     OrderStatus = "Active"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// forward lists the single next state of each point on the delivery track.
var forward = map[OrderStatus]OrderStatus{
	OrderStatusActive:     OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusShipped,
	OrderStatusShipped:    OrderStatusDelivered,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusActive, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an order may move from s to next.
// Cancellation is allowed from any non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return forward[s] == next
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}
