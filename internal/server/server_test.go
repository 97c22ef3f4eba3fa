package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mercado/internal/database"
	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/state"
)

type stubAssistant struct{}

func (stubAssistant) Generate(context.Context, string, *float64) ([]model.MarketItem, error) {
	return []model.MarketItem{{Name: "Pão", Quantity: 6, Price: 1, Category: model.CategoryBakery, IsEstimated: true}}, nil
}

func newTestServer(t *testing.T, limit int) (*Server, http.Handler, *state.Store) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := state.New(model.NewState(500))
	srv := New(db, st, stubAssistant{}, Config{AssistantRateLimit: limit}, slog.Default())
	return srv, srv.Router(), st
}

func request(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestHealth(t *testing.T) {
	_, h, _ := newTestServer(t, 10)
	rec := request(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" || body["seq"] != float64(0) {
		t.Errorf("body = %v", body)
	}

	request(h, http.MethodPost, "/api/items", `{"name":"Uva"}`)
	rec = request(h, http.MethodGet, "/health", "")
	json.NewDecoder(rec.Body).Decode(&body)
	if body["seq"] != float64(1) {
		t.Errorf("seq after one mutation = %v, want 1", body["seq"])
	}
}

func TestRoutes(t *testing.T) {
	_, h, st := newTestServer(t, 10)

	rec := request(h, http.MethodPost, "/api/items", `{"name":"Banana","price":6}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	id := st.Items()[0].ID

	tests := []struct {
		method, target, body string
		status               int
	}{
		{http.MethodGet, "/api/state", "", http.StatusOK},
		{http.MethodGet, "/api/items", "", http.StatusOK},
		{http.MethodPatch, "/api/items/" + id, `{"quantity":2}`, http.StatusOK},
		{http.MethodPost, "/api/items/" + id + "/toggle", "", http.StatusOK},
		{http.MethodPost, "/api/items/" + id + "/increment", "", http.StatusOK},
		{http.MethodPost, "/api/items/" + id + "/decrement", "", http.StatusOK},
		{http.MethodPut, "/api/budget", `{"limit":"600"}`, http.StatusOK},
		{http.MethodGet, "/api/summary", "", http.StatusOK},
		{http.MethodPost, "/api/finish", `{"date":"2024-06-01"}`, http.StatusOK},
		{http.MethodPost, "/api/finish", `{"date":"2024-06-01"}`, http.StatusUnprocessableEntity},
		{http.MethodGet, "/api/history", "", http.StatusOK},
		{http.MethodGet, "/api/history/monthly", "", http.StatusOK},
		{http.MethodPost, "/api/assistant/generate", `{"prompt":"café da manhã"}`, http.StatusCreated},
		{http.MethodGet, "/api/backups", "", http.StatusOK},
		{http.MethodGet, "/api/install", "", http.StatusOK},
		{http.MethodGet, "/manifest.webmanifest", "", http.StatusOK},
		{http.MethodGet, "/sw.js", "", http.StatusOK},
		{http.MethodGet, "/offline", "", http.StatusOK},
		{http.MethodDelete, "/api/items/" + id, "", http.StatusNoContent},
		{http.MethodGet, "/api/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := request(h, tt.method, tt.target, tt.body)
		if rec.Code != tt.status {
			t.Errorf("%s %s: status = %d, want %d (%s)", tt.method, tt.target, rec.Code, tt.status, rec.Body)
		}
	}

	if got := st.Snapshot(); len(got.History) != 1 || got.Budget != 588 {
		t.Errorf("state after routes = %+v", got)
	}
}

func TestAssistantRateLimited(t *testing.T) {
	_, h, _ := newTestServer(t, 2)
	for i := 0; i < 2; i++ {
		if rec := request(h, http.MethodPost, "/api/assistant/generate", `{"prompt":"x"}`); rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	if rec := request(h, http.MethodPost, "/api/assistant/generate", `{"prompt":"x"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	// Other routes are not limited
	if rec := request(h, http.MethodGet, "/api/state", ""); rec.Code != http.StatusOK {
		t.Errorf("state status = %d", rec.Code)
	}
}

func TestMutationsAreBroadcast(t *testing.T) {
	_, h, _ := newTestServer(t, 10)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	}

	if msg := read(); msg["kind"] != "snapshot" {
		t.Fatalf("first message = %v, want a snapshot", msg)
	}

	request(h, http.MethodPost, "/api/items", `{"name":"Uva","price":10}`)

	msg := read()
	if msg["topic"] != "state" || msg["kind"] != "changed" || msg["seq"] != float64(1) {
		t.Fatalf("message = %v, want state changed at seq 1", msg)
	}
	data, _ := msg["data"].(map[string]any)
	if data["totalSpent"] != float64(10) || data["itemCount"] != float64(1) {
		t.Errorf("summary payload = %v", data)
	}
}
