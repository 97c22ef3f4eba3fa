package model

// DefaultBudget is the budget limit of a fresh session.
const DefaultBudget = 500.0

// State is the whole persisted aggregate. Items and History are newest first.
type State struct {
	Items   []MarketItem   `json:"items"`
	Budget  float64        `json:"budget"`
	History []ShoppingTrip `json:"history"`
}

// NewState returns the empty state with the given budget limit.
func NewState(budget float64) State {
	return State{
		Items:   []MarketItem{},
		Budget:  budget,
		History: []ShoppingTrip{},
	}
}

// Clone returns a deep copy of s; the copy shares no slices with s.
func (s State) Clone() State {
	out := State{
		Items:   cloneItems(s.Items),
		Budget:  s.Budget,
		History: make([]ShoppingTrip, len(s.History)),
	}
	for i, trip := range s.History {
		out.History[i] = trip.Clone()
	}
	return out
}

func cloneItems(items []MarketItem) []MarketItem {
	out := make([]MarketItem, len(items))
	copy(out, items)
	return out
}
