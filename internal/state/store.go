// Package state holds the active shopping list, the budget and the trip
// history, and applies every mutation to them.
//
// All mutations are serialized by one mutex, so no two of them interleave and
// a listener never observes a half-applied change.
package state

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mercado/internal/grocery"
	"github.com/dukerupert/mercado/internal/model"
)

var (
	// ErrNothingChecked is returned by FinishShopping when no item is checked.
	ErrNothingChecked = errors.New("mark the items you already bought before finishing the purchase")
	// ErrInvalidBudget is returned when a budget value is not a finite number.
	ErrInvalidBudget = errors.New("budget must be a number")
	// ErrInvalidItem is returned when an item or patch breaks an item invariant.
	ErrInvalidItem = errors.New("invalid item")
	// ErrInvalidDate is returned when a purchase date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("purchase date must be YYYY-MM-DD")
)

// ViewHistory is the view a caller should switch to after finishing a trip.
const ViewHistory = "history"

// Listener receives a deep copy of the state after every applied mutation.
// It runs while the store is locked: it must not block or call the store.
type Listener func(model.State)

// Store owns the application state.
type Store struct {
	mu        sync.Mutex
	st        model.State
	now       func() time.Time
	loc       *time.Location
	newID     func() string
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used to stamp finished trips.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone purchase dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithIDFunc overrides id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New returns a Store seeded with initial.
func New(initial model.State, opts ...Option) *Store {
	s := &Store{
		st:    initial.Clone(),
		now:   time.Now,
		loc:   time.Local,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to be called after each mutation.
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// changed must be called with s.mu held.
func (s *Store) changed() {
	if len(s.listeners) == 0 {
		return
	}
	snap := s.st.Clone()
	for _, fn := range s.listeners {
		fn(snap)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

// Items returns a copy of the active list, newest first.
func (s *Store) Items() []model.MarketItem {
	return s.Snapshot().Items
}

// History returns a copy of the trip history, newest first.
func (s *Store) History() []model.ShoppingTrip {
	return s.Snapshot().History
}

// Budget returns the current budget limit.
func (s *Store) Budget() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Budget
}

// Replace swaps the whole state, e.g. after a restore.
func (s *Store) Replace(st model.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st.Clone()
	s.changed()
}

// AddItem validates item, gives it a fresh id and prepends it to the active
// list unchecked. Duplicate names are allowed.
func (s *Store) AddItem(item model.MarketItem) (model.MarketItem, error) {
	item, err := s.prepare(item)
	if err != nil {
		return model.MarketItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Items = append([]model.MarketItem{item}, s.st.Items...)
	s.changed()
	return item, nil
}

// AddItems prepends items in their input order. Either every item is added
// or, when one is invalid, none is.
func (s *Store) AddItems(items []model.MarketItem) ([]model.MarketItem, error) {
	prepared := make([]model.MarketItem, 0, len(items))
	for i, item := range items {
		p, err := s.prepare(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}
	if len(prepared) == 0 {
		return prepared, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]model.MarketItem, 0, len(prepared)+len(s.st.Items))
	next = append(next, prepared...)
	s.st.Items = append(next, s.st.Items...)
	s.changed()
	return prepared, nil
}

func (s *Store) prepare(item model.MarketItem) (model.MarketItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return item, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if !finite(item.Quantity) || !finite(item.Price) {
		return item, fmt.Errorf("%w: quantity and price must be numbers", ErrInvalidItem)
	}
	if item.Price < 0 {
		return item, fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	}
	if item.Quantity <= 0 {
		item.Quantity = model.DefaultQuantity
	}
	switch {
	case item.Category == "":
		item.Category = grocery.Categorize(item.Name)
	case !item.Category.Valid():
		item.Category = grocery.Normalize(string(item.Category))
	}
	// Ids are always minted here so they stay unique in the list.
	item.ID = s.newID()
	item.Checked = false
	return item, nil
}

// DeleteItem removes the item with id. It reports whether an item was removed.
func (s *Store) DeleteItem(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.st.Items = append(s.st.Items[:idx:idx], s.st.Items[idx+1:]...)
	s.changed()
	return true
}

// ToggleItem flips the checked flag of the item with id.
func (s *Store) ToggleItem(id string) (model.MarketItem, bool) {
	return s.modify(id, func(item model.MarketItem) model.MarketItem {
		item.Checked = !item.Checked
		return item
	})
}

// UpdateItem merges patch over the item with id. The returned bool is false
// when no such item exists; that is not an error.
func (s *Store) UpdateItem(id string, patch model.ItemPatch) (model.MarketItem, bool, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return model.MarketItem{}, false, fmt.Errorf("%w: name is required", ErrInvalidItem)
		}
		patch.Name = &name
	}
	if patch.Price != nil && (!finite(*patch.Price) || *patch.Price < 0) {
		return model.MarketItem{}, false, fmt.Errorf("%w: price must be a non-negative number", ErrInvalidItem)
	}
	if patch.Quantity != nil {
		if !finite(*patch.Quantity) {
			return model.MarketItem{}, false, fmt.Errorf("%w: quantity must be a number", ErrInvalidItem)
		}
		q := math.Max(*patch.Quantity, model.MinQuantity)
		patch.Quantity = &q
	}
	if patch.Category != nil && !patch.Category.Valid() {
		c := grocery.Normalize(string(*patch.Category))
		patch.Category = &c
	}

	item, ok := s.modify(id, patch.Apply)
	return item, ok, nil
}

// IncrementQuantity adds one unit to the item with id.
func (s *Store) IncrementQuantity(id string) (model.MarketItem, bool) {
	return s.modify(id, func(item model.MarketItem) model.MarketItem {
		item.Quantity++
		return item
	})
}

// DecrementQuantity removes one unit from the item with id, never going
// below model.MinQuantity.
func (s *Store) DecrementQuantity(id string) (model.MarketItem, bool) {
	return s.modify(id, func(item model.MarketItem) model.MarketItem {
		item.Quantity = math.Max(model.MinQuantity, item.Quantity-1)
		return item
	})
}

func (s *Store) modify(id string, fn func(model.MarketItem) model.MarketItem) (model.MarketItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.MarketItem{}, false
	}
	updated := fn(s.st.Items[idx])
	s.st.Items[idx] = updated
	s.changed()
	return updated, true
}

func (s *Store) indexOf(id string) int {
	for i, item := range s.st.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// ParseBudget parses user-entered budget text. Both "1234.56" and the
// pt-BR "1.234,56" are accepted: with a decimal comma, dots are thousands
// separators.
func ParseBudget(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if strings.Contains(text, ",") {
		text = strings.ReplaceAll(text, ".", "")
		text = strings.ReplaceAll(text, ",", ".")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || !finite(v) {
		return 0, ErrInvalidBudget
	}
	return v, nil
}

// UpdateBudget replaces the budget limit with the parsed text. Zero and
// negative limits are accepted; unparseable text leaves the budget unchanged.
func (s *Store) UpdateBudget(text string) (float64, error) {
	v, err := ParseBudget(text)
	if err != nil {
		return s.Budget(), err
	}
	return v, s.SetBudget(v)
}

// SetBudget replaces the budget limit.
func (s *Store) SetBudget(limit float64) error {
	if !finite(limit) {
		return ErrInvalidBudget
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Budget = limit
	s.changed()
	return nil
}

// FinishResult is what FinishShopping reports back to the caller.
type FinishResult struct {
	Trip   model.ShoppingTrip `json:"trip"`
	Budget float64            `json:"budget"`
	View   string             `json:"view"`
}

// FinishShopping closes a trip with the checked items. date is the calendar
// day the user picked, as YYYY-MM-DD. The trip is prepended to history, the
// checked items leave the active list and the trip total is taken off the
// budget. With nothing checked it returns ErrNothingChecked and changes nothing.
func (s *Store) FinishShopping(date string) (FinishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bought, kept []model.MarketItem
	for _, item := range s.st.Items {
		if item.Checked {
			bought = append(bought, item)
		} else {
			kept = append(kept, item)
		}
	}
	if len(bought) == 0 {
		return FinishResult{}, ErrNothingChecked
	}

	stamp, err := s.purchaseTime(date)
	if err != nil {
		return FinishResult{}, err
	}

	var total float64
	for _, item := range bought {
		total += item.Subtotal()
	}

	trip := model.ShoppingTrip{
		ID:        s.newID(),
		Date:      stamp,
		Total:     Round2(total),
		ItemCount: len(bought),
		Items:     bought,
	}

	if kept == nil {
		kept = []model.MarketItem{}
	}
	s.st.History = append([]model.ShoppingTrip{trip}, s.st.History...)
	s.st.Items = kept
	s.st.Budget = Round2(s.st.Budget - trip.Total)
	s.changed()

	return FinishResult{Trip: trip.Clone(), Budget: s.st.Budget, View: ViewHistory}, nil
}

// purchaseTime combines the picked calendar day with the current hour and
// minute in the store's zone. The resulting instant's local date is always
// the picked date.
func (s *Store) purchaseTime(date string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(date), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	now := s.now().In(s.loc)
	stamp := time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), 0, 0, s.loc)
	return stamp.UTC(), nil
}

// Today returns the current calendar day in the store's zone as YYYY-MM-DD,
// the default purchase date.
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}

// Location returns the zone purchase dates are interpreted in.
func (s *Store) Location() *time.Location {
	return s.loc
}

// DeleteTrip removes the trip with id from history. The budget is not restored.
func (s *Store) DeleteTrip(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, trip := range s.st.History {
		if trip.ID == id {
			s.st.History = append(s.st.History[:i:i], s.st.History[i+1:]...)
			s.changed()
			return true
		}
	}
	return false
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
