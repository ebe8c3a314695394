package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps the quantity of one cart line.
const MaxLineQuantity = 99

// DeletedItemTitle replaces the title of a line whose catalog item is gone.
const DeletedItemTitle = "[Deleted Item]"

type Item struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// CartLine is one item in a user's cart. Once Consumed it belongs to OrderID
// and mirrors the order's status.
type CartLine struct {
	ID        int64
	UserID    int64
	ItemID    *int64 // nil once the catalog item was deleted
	Quantity  int
	Consumed  bool
	Status    OrderStatus
	OrderID   *uuid.UUID
	CreatedAt time.Time

	// Title and UnitPrice are the current catalog values, read together with the line.
	Title     string
	UnitPrice decimal.Decimal
}

type User struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Score     int
	IsStaff   bool
}

type LineKind int

const (
	LinePresent LineKind = iota
	LineDeleted
)

// LineView is how a cart line is rendered to clients: either Present with
// the catalog title and price, or Deleted with a placeholder and zero price.
type LineView struct {
	Kind     LineKind
	LineID   int64
	ItemID   int64
	Title    string
	Price    decimal.Decimal
	Quantity int
}

func PresentLine(lineID int64, item Item, quantity int) LineView {
	return LineView{Kind: LinePresent, LineID: lineID, ItemID: item.ID, Title: item.Title, Price: item.Price, Quantity: quantity}
}

func DeletedLine(lineID int64, quantity int) LineView {
	return LineView{Kind: LineDeleted, LineID: lineID, Title: DeletedItemTitle, Price: decimal.Zero, Quantity: quantity}
}

func (v LineView) IsDeleted() bool {
	return v.Kind == LineDeleted
}

// View renders the line from the catalog values carried on it.
func (l CartLine) View() LineView {
	if l.ItemID == nil {
		return DeletedLine(l.ID, l.Quantity)
	}
	return PresentLine(l.ID, Item{ID: *l.ItemID, Title: l.Title, Price: l.UnitPrice}, l.Quantity)
}
