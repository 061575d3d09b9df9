// FILE: server_test.go
package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer() (*Server, *Trader) {
	cfg := testConfig()
	tr := newTestTrader(cfg, &fakeMarket{meta: testMeta(3, 0.001)}, &fakeAccount{}, &fakeExec{})
	ring := NewDecisionRing()
	logs := NewLogRing()
	hub := NewHub(logs)
	srv := NewServer(cfg, tr, nil, logs, ring, hub)
	return srv, tr
}

func TestHealthzReflectsHalt(t *testing.T) {
	srv, tr := newTestServer()
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	tr.halted.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("halted status = %d, want 503", rec.Code)
	}
}

func TestDecisionsEndpointFiltersBySymbol(t *testing.T) {
	srv, _ := newTestServer()
	srv.ring.Add(Decision{Symbol: "BTCUSDT", Action: ActionHold})
	srv.ring.Add(Decision{Symbol: "ETHUSDT", Action: ActionBuy})
	srv.ring.Add(Decision{Symbol: "BTCUSDT", Action: ActionClose})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decisions?symbol=BTCUSDT", nil))
	var got []Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d decisions, want 2", len(got))
	}
	// Newest first.
	if got[0].Action != ActionClose {
		t.Fatalf("first = %s, want CLOSE", got[0].Action)
	}
}

func TestControlPauseResume(t *testing.T) {
	srv, tr := newTestServer()
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control",
		bytes.NewBufferString(`{"action":"pause"}`)))
	if rec.Code != http.StatusOK || !tr.paused.Load() {
		t.Fatalf("pause failed: code=%d paused=%v", rec.Code, tr.paused.Load())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control",
		bytes.NewBufferString(`{"action":"resume"}`)))
	if rec.Code != http.StatusOK || tr.paused.Load() {
		t.Fatal("resume failed")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /control = %d, want 405", rec.Code)
	}
}

func TestBacktestEndpoint(t *testing.T) {
	srv, _ := newTestServer()
	req := BacktestRequest{
		Symbol:        "BTCUSDT",
		InitialEquity: 10000,
		Candles:       trendingCandles(),
	}
	body, _ := json.Marshal(req)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/backtest", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res BacktestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Bars != len(req.Candles) {
		t.Fatalf("bars = %d, want %d", res.Bars, len(req.Candles))
	}
}

func TestBacktestEndpointRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET = %d, want 405", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/backtest",
		bytes.NewBufferString(`{"symbol":"BTCUSDT","candles":[]}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short series = %d, want 422", rec.Code)
	}
}
