package persist

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mercado/internal/database"
	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/store"
)

const testKey = "mercado_state_v2"

// memKV implements KV in memory.
type memKV struct {
	mu     sync.Mutex
	data   map[string]string
	puts   int
	getErr error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts++
	return nil
}

func (m *memKV) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

func sampleState() model.State {
	return model.State{
		Items: []model.MarketItem{
			{ID: "a", Name: "Arroz", Quantity: 2, Price: 25.9, Category: model.CategoryGrocery},
			{ID: "b", Name: "Picanha", Quantity: 1.2, Price: 79.9, Category: model.CategoryButcher, Checked: true, IsEstimated: true},
		},
		Budget: 321.5,
		History: []model.ShoppingTrip{{
			ID:        "t1",
			Date:      time.Date(2024, 1, 5, 16, 20, 0, 0, time.UTC),
			Total:     12,
			ItemCount: 1,
			Items:     []model.MarketItem{{ID: "c", Name: "Pão", Quantity: 6, Price: 2, Category: model.CategoryBakery, Checked: true}},
		}},
	}
}

func TestRoundTrip(t *testing.T) {
	kv := newMemKV()
	a := New(kv, testKey, model.DefaultBudget, slog.Default())
	ctx := context.Background()

	if _, err := a.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := sampleState()
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	b := New(kv, testKey, model.DefaultBudget, slog.Default())
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadAbsentGivesDefaults(t *testing.T) {
	a := New(newMemKV(), testKey, 500, slog.Default())

	got, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, model.NewState(500)) {
		t.Errorf("got %+v, want defaults", got)
	}
}

func TestLoadCorruptEqualsAbsent(t *testing.T) {
	ctx := context.Background()
	absent, _ := New(newMemKV(), testKey, 500, slog.Default()).Load(ctx)

	for _, raw := range []string{"{not json", "[1,2,3]", `{"items": "nope"}`, `{"budget": "lots"}`} {
		kv := newMemKV()
		kv.data[testKey] = raw
		a := New(kv, testKey, 500, slog.Default())

		got, err := a.Load(ctx)
		if err != nil {
			t.Fatalf("load %q: %v", raw, err)
		}
		if !reflect.DeepEqual(got, absent) {
			t.Errorf("load %q = %+v, want defaults %+v", raw, got, absent)
		}
		if !a.Armed() {
			t.Errorf("adapter should be armed after loading %q", raw)
		}
	}
}

func TestLoadMissingFieldsDefaultIndependently(t *testing.T) {
	kv := newMemKV()
	kv.data[testKey] = `{"items":[{"id":"x","name":"Leite","quantity":1,"price":5,"category":"Mercearia","checked":false}]}`
	a := New(kv, testKey, 500, slog.Default())

	got, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Leite" {
		t.Errorf("items = %+v, want the stored item", got.Items)
	}
	if got.Budget != 500 {
		t.Errorf("budget = %v, want default 500", got.Budget)
	}
	if got.History == nil || len(got.History) != 0 {
		t.Errorf("history = %#v, want empty slice", got.History)
	}
}

func TestLoadKeepsZeroBudget(t *testing.T) {
	kv := newMemKV()
	kv.data[testKey] = `{"budget":0}`

	got, _ := New(kv, testKey, 500, slog.Default()).Load(context.Background())
	if got.Budget != 0 {
		t.Errorf("budget = %v, want 0", got.Budget)
	}
}

func TestSaveBeforeLoadIsRefused(t *testing.T) {
	kv := newMemKV()
	kv.data[testKey] = `{"budget":42}`
	a := New(kv, testKey, 500, slog.Default())

	if err := a.Save(context.Background(), a.Defaults()); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("save before load err = %v, want ErrNotArmed", err)
	}
	if kv.value(testKey) != `{"budget":42}` {
		t.Error("stored state was overwritten before load")
	}
}

func TestLoadReadFailureStaysUnarmed(t *testing.T) {
	kv := newMemKV()
	kv.getErr = errors.New("disk on fire")
	a := New(kv, testKey, 500, slog.Default())

	if _, err := a.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if a.Armed() {
		t.Error("adapter must stay unarmed after a failed read")
	}
}

func TestEncodeEmptyCollections(t *testing.T) {
	data, err := Encode(model.State{Budget: 10})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"items":[],"budget":10,"history":[]}` {
		t.Errorf("encoded = %s", data)
	}
}

func TestAdapterWithSQLite(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	a := New(store.NewKVStore(db), testKey, 500, slog.Default())
	if _, err := a.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := sampleState()
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := New(store.NewKVStore(db), testKey, 500, slog.Default()).Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}
