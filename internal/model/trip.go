package model

import "time"

// ShoppingTrip is a finished purchase. It is appended to history or deleted
// whole; its fields never change after creation.
type ShoppingTrip struct {
	ID        string       `json:"id"`
	Date      time.Time    `json:"date"`
	Total     float64      `json:"total"`
	ItemCount int          `json:"itemCount"`
	Items     []MarketItem `json:"items"`
}

// Clone returns a copy of t that shares no items with it.
func (t ShoppingTrip) Clone() ShoppingTrip {
	t.Items = cloneItems(t.Items)
	return t
}
