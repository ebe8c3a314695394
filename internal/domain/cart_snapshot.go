package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency of every amount handled by the service.
const Currency = "ETB"

type CartSnapshotItem struct {
	LineID    int64           `json:"line_id"`
	ItemID    *int64          `json:"item_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CartSnapshot is the priced content of a cart at one instant.
type CartSnapshot struct {
	Items       []CartSnapshotItem `json:"items"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
	CapturedAt  time.Time          `json:"captured_at"`
}

// PriceLines returns the snapshot of lines at their current unit prices.
// Lines whose item was deleted are priced at zero.
func PriceLines(lines []CartLine, at time.Time) CartSnapshot {
	snapshot := CartSnapshot{
		Items:       make([]CartSnapshotItem, 0, len(lines)),
		TotalAmount: decimal.Zero,
		Currency:    Currency,
		CapturedAt:  at,
	}
	for _, line := range lines {
		view := line.View()
		subtotal := view.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		snapshot.Items = append(snapshot.Items, CartSnapshotItem{
			LineID:    line.ID,
			ItemID:    line.ItemID,
			Title:     view.Title,
			Quantity:  line.Quantity,
			UnitPrice: view.Price,
			Subtotal:  subtotal,
		})
		snapshot.TotalAmount = snapshot.TotalAmount.Add(subtotal)
	}
	return snapshot
}
