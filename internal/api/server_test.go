// Package api_test provides tests for the HTTP/WebSocket control surface.
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantflow/backtest-engine/internal/api"
	"github.com/quantflow/backtest-engine/pkg/types"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	cfg := &types.ServerConfig{Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws"}
	server := api.NewServer(logger, cfg)
	return httptest.NewServer(server.Router())
}

func oneTickStrategyConfig(tick time.Time) types.StrategyConfig {
	klineData := map[string]interface{}{
		"exchange": "binance",
		"account":  "backtest",
		"selectedSymbols": []map[string]interface{}{
			{"symbol": "BTCUSDT", "interval": "1m", "handleId": "btc"},
		},
	}
	return types.StrategyConfig{
		StrategyId:     1,
		StrategyName:   "one-tick",
		StartTime:      tick,
		EndTime:        tick,
		InitialBalance: decimal.NewFromInt(10000),
		Leverage:       1,
		FeeRate:        decimal.Zero,
		Nodes: []types.NodeConfig{
			{Id: "start", Name: "start", Type: types.NodeKindStart},
			{Id: "kline", Name: "kline", Type: types.NodeKindKline, Data: klineData},
		},
		Edges: []types.EdgeConfig{
			{Source: "start", SourceHandle: "default", Target: "kline", TargetHandle: "default"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestCreateStrategyAndLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := oneTickStrategyConfig(tick)

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/strategies", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /strategies: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatalf("expected a non-empty run id")
	}

	resp2, err := http.Post(ts.URL+"/api/v1/strategies/"+id+"/init", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /init: %v", err)
	}
	defer resp2.Body.Close()

	resp3, err := http.Get(ts.URL + "/api/v1/strategies/" + id)
	if err != nil {
		t.Fatalf("GET /strategies/%s: %v", id, err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp3.StatusCode)
	}
}

func TestGetUnknownStrategyNotFound(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/strategies/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
