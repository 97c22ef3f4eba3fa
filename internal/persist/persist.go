// Package persist saves the whole application state under one durable key
// and restores it at startup.
//
// Saving is refused until Load has completed, so the empty defaults a fresh
// process starts with can never overwrite the stored state.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/mercado/internal/model"
)

// ErrNotArmed is returned by Save before Load has completed.
var ErrNotArmed = errors.New("persist: save before load")

// KV is the durable key/value storage the adapter writes through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Adapter reads and writes the state blob.
type Adapter struct {
	kv            KV
	key           string
	defaultBudget float64
	logger        *slog.Logger

	mu    sync.Mutex
	armed bool
}

func New(kv KV, key string, defaultBudget float64, logger *slog.Logger) *Adapter {
	return &Adapter{
		kv:            kv,
		key:           key,
		defaultBudget: defaultBudget,
		logger:        logger,
	}
}

// Key returns the durable key the state lives under.
func (a *Adapter) Key() string {
	return a.key
}

// Defaults returns the state of a session with nothing saved.
func (a *Adapter) Defaults() model.State {
	return model.NewState(a.defaultBudget)
}

// Load reads the stored state. A missing or unparseable blob yields the
// defaults; the parse error is logged and not returned. Only a storage read
// failure is returned, and in that case saving stays disabled.
func (a *Adapter) Load(ctx context.Context) (model.State, error) {
	raw, ok, err := a.kv.Get(ctx, a.key)
	if err != nil {
		return model.State{}, fmt.Errorf("load state: %w", err)
	}

	st := a.Defaults()
	if ok {
		decoded, err := Decode([]byte(raw), a.defaultBudget)
		if err != nil {
			a.logger.Warn("stored state is corrupt, starting from defaults", "key", a.key, "error", err)
		} else {
			st = decoded
		}
	}

	a.mu.Lock()
	a.armed = true
	a.mu.Unlock()

	a.logger.Info("state loaded", "key", a.key, "found", ok, "items", len(st.Items), "trips", len(st.History))
	return st, nil
}

// Armed reports whether Load has completed.
func (a *Adapter) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// Save writes st under the key. Last write wins.
func (a *Adapter) Save(ctx context.Context, st model.State) error {
	if !a.Armed() {
		return ErrNotArmed
	}
	data, err := Encode(st)
	if err != nil {
		return err
	}
	if err := a.kv.Put(ctx, a.key, string(data)); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Encode serializes st as {items, budget, history}.
func Encode(st model.State) ([]byte, error) {
	if st.Items == nil {
		st.Items = []model.MarketItem{}
	}
	if st.History == nil {
		st.History = []model.ShoppingTrip{}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

type blob struct {
	Items   *[]model.MarketItem   `json:"items"`
	Budget  *float64              `json:"budget"`
	History *[]model.ShoppingTrip `json:"history"`
}

// Decode parses a stored blob. Each missing field falls back to its default
// on its own; a blob that does not parse is rejected whole.
func Decode(data []byte, defaultBudget float64) (model.State, error) {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return model.State{}, fmt.Errorf("decode state: %w", err)
	}

	st := model.NewState(defaultBudget)
	if b.Items != nil && *b.Items != nil {
		st.Items = *b.Items
	}
	if b.Budget != nil {
		st.Budget = *b.Budget
	}
	if b.History != nil && *b.History != nil {
		st.History = *b.History
	}
	for i := range st.History {
		if st.History[i].Items == nil {
			st.History[i].Items = []model.MarketItem{}
		}
	}
	return st, nil
}
