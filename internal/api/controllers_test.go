package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"swap-core/internal/monitor"
	"swap-core/internal/order"
	"swap-core/internal/stream"
	"swap-core/pkg/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	db     *db.Database
	queue  *order.Queue
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	q, err := order.NewQueue(order.QueueConfig{Dir: t.TempDir(), Size: 16})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(q.Close)

	b := stream.NewBroadcaster()
	t.Cleanup(b.Close)

	s := NewServer(d, q, b, monitor.NewSystemMetrics(), SystemMeta{
		Venues:  []string{"raydium", "meteora"},
		Version: "test",
	})
	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)

	return &testEnv{server: s, db: d, queue: q, http: ts}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestExecuteOrderAccepted(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/orders/execute", map[string]any{
		"tokenIn":  "SOL",
		"tokenOut": "USDC",
		"amountIn": 1.5,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, expected 202", resp.StatusCode)
	}

	orderID, _ := body["orderId"].(string)
	if _, err := uuid.Parse(orderID); err != nil {
		t.Fatalf("orderId %q is not a uuid: %v", orderID, err)
	}
	if body["status"] != "queued" {
		t.Fatalf("status field = %v, expected queued", body["status"])
	}
	wsURL, _ := body["wsUrl"].(string)
	if !strings.Contains(wsURL, "/ws/orders/"+orderID) {
		t.Fatalf("wsUrl %q does not target the order's channel", wsURL)
	}

	// Accepted means persisted and enqueued.
	got, err := env.db.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("persisted status = %s, expected pending", got.Status)
	}
	if got.Slippage != 0.01 {
		t.Fatalf("default slippage = %v, expected 0.01", got.Slippage)
	}
	if got.Type != "market" {
		t.Fatalf("default type = %s, expected market", got.Type)
	}
	if !env.queue.Active(orderID) {
		t.Fatal("order not enqueued")
	}
}

func TestExecuteOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing tokenIn", map[string]any{"tokenOut": "USDC", "amountIn": 1.0}},
		{"missing tokenOut", map[string]any{"tokenIn": "SOL", "amountIn": 1.0}},
		{"zero amount", map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amountIn": 0}},
		{"negative amount", map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amountIn": -1.0}},
		{"bad type", map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amountIn": 1.0, "type": "stop"}},
		{"slippage above 1", map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amountIn": 1.0, "slippage": 1.5}},
		{"negative slippage", map[string]any{"tokenIn": "SOL", "tokenOut": "USDC", "amountIn": 1.0, "slippage": -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(t, "/api/orders/execute", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, expected 400", resp.StatusCode)
			}
			if body["code"] == "" || body["error"] == "" {
				t.Fatalf("error body = %v", body)
			}
		})
	}

	// Nothing persisted, nothing enqueued.
	counts, err := env.db.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("rejected requests persisted rows: %v", counts)
	}
	if env.queue.Len() != 0 {
		t.Fatalf("rejected requests enqueued %d jobs", env.queue.Len())
	}
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t)

	_, created := env.post(t, "/api/orders/execute", map[string]any{
		"tokenIn":  "SOL",
		"tokenOut": "USDC",
		"amountIn": 2.0,
	})
	orderID := created["orderId"].(string)

	resp, body := env.get(t, "/api/orders/"+orderID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	if body["id"] != orderID || body["tokenIn"] != "SOL" {
		t.Fatalf("body = %v", body)
	}
	if _, present := body["txHash"]; present {
		t.Fatal("txHash exposed on an unexecuted order")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/orders/"+uuid.NewString())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, expected 404", resp.StatusCode)
	}
}

func TestGetOrderMalformedID(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/orders/not-a-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, expected 400", resp.StatusCode)
	}
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		env.post(t, "/api/orders/execute", map[string]any{
			"tokenIn":  "SOL",
			"tokenOut": "USDC",
			"amountIn": 1.0,
		})
	}

	resp, body := env.get(t, "/api/orders?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	orders, _ := body["orders"].([]any)
	if len(orders) != 2 {
		t.Fatalf("listed %d orders, expected 2", len(orders))
	}
}

func TestQueueMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/orders/execute", map[string]any{
		"tokenIn":  "SOL",
		"tokenOut": "USDC",
		"amountIn": 1.0,
	})

	resp, body := env.get(t, "/api/queue/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, expected 200", resp.StatusCode)
	}
	if body["depth"] != float64(1) {
		t.Fatalf("depth = %v, expected 1", body["depth"])
	}
}
