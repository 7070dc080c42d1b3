package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"enertrade/internal/audit"
	"enertrade/internal/bus"
	"enertrade/internal/config"
	"enertrade/internal/connector"
	"enertrade/internal/engine"
	"enertrade/internal/metrics"
	"enertrade/internal/prefs"
	"enertrade/internal/session"
	"enertrade/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fixedOracle serves static reference prices.
type fixedOracle struct {
	mu     sync.Mutex
	prices map[types.Commodity]decimal.Decimal
}

func (f *fixedOracle) Price(c types.Commodity) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[c]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price for %s: %w", c, types.ErrUnsupportedCommodity)
	}
	return p, nil
}

type testServer struct {
	ts         *httptest.Server
	audit      audit.Sink
	connectors *connector.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Trading.MinOrderSize = 10
	logger := newTestLogger()

	evbus := bus.New(cfg.Bus, logger)
	t.Cleanup(evbus.Close)

	sched, err := session.New(cfg.Trading)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}

	px := &fixedOracle{prices: map[types.Commodity]decimal.Decimal{
		types.CrudeOil:   dec("80.00"),
		types.NaturalGas: dec("3.50"),
	}}
	collector := metrics.New(prometheus.NewRegistry())
	eng := engine.New(cfg, px, nil, evbus, sched, collector, logger)

	prefStore, err := prefs.Open(config.PrefsConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("prefs.Open() error = %v", err)
	}

	auditSink, err := audit.Open(config.AuditConfig{DBPath: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	t.Cleanup(func() { auditSink.Close() })

	registry := connector.NewRegistry(logger)

	s := NewServer(cfg.Server, eng, evbus, prefStore, auditSink, registry, collector, logger)
	go s.hub.Run()
	s.subscribeStream()
	t.Cleanup(s.hub.Close)
	t.Cleanup(func() { s.unsub() })

	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, audit: auditSink, connectors: registry}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.ts.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := ts.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func (ts *testServer) placeOrder(t *testing.T, body map[string]any) types.Order {
	t.Helper()

	resp, raw := ts.do(t, http.MethodPost, "/api/orders", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order status = %d, body %s", resp.StatusCode, raw)
	}
	var o types.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	return o
}

func limitBody(user, side, qty, price string) map[string]any {
	return map[string]any{
		"user_id":   user,
		"commodity": "crude_oil",
		"side":      side,
		"type":      "limit",
		"quantity":  qty,
		"price":     price,
		"tif":       "gtc",
	}
}

type apiError struct {
	Error string       `json:"error"`
	Kind  string       `json:"kind"`
	Order *types.Order `json:"order"`
}

func decodeAPIError(t *testing.T, raw []byte) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatalf("unmarshal error body %s: %v", raw, err)
	}
	return e
}

// ————————————————————————————————————————————————————————————————————————
// Order routes
// ————————————————————————————————————————————————————————————————————————

func TestHealth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, raw := ts.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), `"ok"`) {
		t.Errorf("body = %s", raw)
	}
}

func TestPlaceAndGetOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	placed := ts.placeOrder(t, limitBody("alice", "sell", "1000", "80.50"))
	if placed.ID == "" || placed.Status != types.StatusPending {
		t.Fatalf("placed = %s/%s, want id and pending", placed.ID, placed.Status)
	}

	resp, raw := ts.do(t, http.MethodGet, "/api/orders/"+placed.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got types.Order
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != placed.ID || !got.Price.Equal(dec("80.50")) {
		t.Errorf("got %s @ %s, want %s @ 80.50", got.ID, got.Price, placed.ID)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantKind   string
	}{
		{
			name:       "unknown commodity",
			body:       map[string]any{"user_id": "alice", "commodity": "plutonium", "side": "buy", "type": "limit", "quantity": "100", "price": "1.00"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "unsupported_commodity",
		},
		{
			name:       "quantity above cap",
			body:       limitBody("alice", "buy", "10000001", "80.00"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "size_limit_exceeded",
		},
		{
			name:       "missing user",
			body:       limitBody("", "buy", "100", "80.00"),
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_order",
		},
		{
			name:       "bad side",
			body:       limitBody("alice", "hold", "100", "80.00"),
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := ts.do(t, http.MethodPost, "/api/orders", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, raw)
			}
			if e := decodeAPIError(t, raw); e.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", e.Kind, tt.wantKind)
			}
		})
	}
}

func TestPlaceOrderMalformedJSON(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, ts.ts.URL+"/api/orders", strings.NewReader("{not json"))
	resp, err := ts.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMatchThroughAPI(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.placeOrder(t, limitBody("alice", "sell", "1000", "80.50"))

	taker := ts.placeOrder(t, map[string]any{
		"user_id": "bob", "commodity": "crude_oil", "side": "buy", "type": "market", "quantity": "600",
	})
	if taker.Status != types.StatusFilled {
		t.Fatalf("taker status = %s, want filled", taker.Status)
	}

	// Trade history shows one fill at the resting price.
	resp, raw := ts.do(t, http.MethodGet, "/api/trades?user=bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trades status = %d", resp.StatusCode)
	}
	var trades []types.Trade
	if err := json.Unmarshal(raw, &trades); err != nil {
		t.Fatalf("unmarshal trades: %v", err)
	}
	if len(trades) != 1 || !trades[0].Price.Equal(dec("80.50")) || !trades[0].Quantity.Equal(dec("600")) {
		t.Fatalf("trades = %+v, want one 600 @ 80.50", trades)
	}

	// The book keeps the 400 residual.
	resp, raw = ts.do(t, http.MethodGet, "/api/book/crude_oil?depth=5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("book status = %d", resp.StatusCode)
	}
	var snap types.BookSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Asks) != 1 || !snap.Asks[0].Quantity.Equal(dec("400")) {
		t.Fatalf("asks = %+v, want one level of 400", snap.Asks)
	}

	// Portfolio reflects the long position.
	resp, raw = ts.do(t, http.MethodGet, "/api/portfolio/bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("portfolio status = %d", resp.StatusCode)
	}
	var pf types.PortfolioSummary
	if err := json.Unmarshal(raw, &pf); err != nil {
		t.Fatalf("unmarshal portfolio: %v", err)
	}
	if len(pf.Positions) != 1 || !pf.Positions[0].Quantity.Equal(dec("600")) {
		t.Fatalf("positions = %+v, want long 600", pf.Positions)
	}
}

func TestModifyOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	placed := ts.placeOrder(t, limitBody("carol", "buy", "500", "79.00"))

	resp, raw := ts.do(t, http.MethodPatch, "/api/orders/"+placed.ID, map[string]any{"price": "79.50"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("modify status = %d, body %s", resp.StatusCode, raw)
	}
	var got types.Order
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Price.Equal(dec("79.50")) {
		t.Errorf("price = %s, want 79.50", got.Price)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	placed := ts.placeOrder(t, limitBody("carol", "buy", "500", "79.00"))

	resp, raw := ts.do(t, http.MethodDelete, "/api/orders/"+placed.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	var got types.Order
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// A second cancel conflicts with the terminal state.
	resp, raw = ts.do(t, http.MethodDelete, "/api/orders/"+placed.ID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp.StatusCode)
	}
	if e := decodeAPIError(t, raw); e.Kind != "illegal_transition" {
		t.Errorf("kind = %s, want illegal_transition", e.Kind)
	}
}

func TestUnknownOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, raw := ts.do(t, http.MethodGet, "/api/orders/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if e := decodeAPIError(t, raw); e.Kind != "not_found" {
		t.Errorf("kind = %s, want not_found", e.Kind)
	}
}

func TestFokRejectionCarriesOrder(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	body := limitBody("bob", "buy", "500", "80.00")
	body["tif"] = "fok"

	resp, raw := ts.do(t, http.MethodPost, "/api/orders", body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", resp.StatusCode, raw)
	}
	e := decodeAPIError(t, raw)
	if e.Kind != "rejected" {
		t.Errorf("kind = %s, want rejected", e.Kind)
	}
	if e.Order == nil || e.Order.Status != types.StatusRejected {
		t.Fatalf("rejected order not attached: %+v", e.Order)
	}

	// The recorded order stays queryable.
	resp, _ = ts.do(t, http.MethodGet, "/api/orders/"+e.Order.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get rejected order status = %d", resp.StatusCode)
	}
}

func TestListOrdersRequiresUser(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/orders", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	ts.placeOrder(t, limitBody("dave", "buy", "100", "78.00"))
	resp, raw := ts.do(t, http.MethodGet, "/api/orders?user=dave", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var orders []types.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(orders) != 1 || orders[0].UserID != "dave" {
		t.Errorf("orders = %+v, want dave's one order", orders)
	}
}

func TestBookUnknownCommodity(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	resp, raw := ts.do(t, http.MethodGet, "/api/book/uranium", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if e := decodeAPIError(t, raw); e.Kind != "unsupported_commodity" {
		t.Errorf("kind = %s, want unsupported_commodity", e.Kind)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Preferences, audit, and connector routes
// ————————————————————————————————————————————————————————————————————————

func TestPrefsRoundTrip(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	// Unsaved users get the defaults.
	resp, raw := ts.do(t, http.MethodGet, "/api/prefs/alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var p types.UserPreferences
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.TradeNotifications || len(p.Channels) != 1 || p.Channels[0] != types.ChannelEmail {
		t.Fatalf("defaults = %+v", p)
	}

	p.Channels = []types.Channel{types.ChannelSMS}
	p.Contacts = map[types.Channel]string{types.ChannelSMS: "+15550100"}
	p.RiskAlerts = false
	resp, raw = ts.do(t, http.MethodPut, "/api/prefs/alice", p)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, body %s", resp.StatusCode, raw)
	}

	resp, raw = ts.do(t, http.MethodGet, "/api/prefs/alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-get status = %d", resp.StatusCode)
	}
	var got types.UserPreferences
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RiskAlerts || len(got.Channels) != 1 || got.Channels[0] != types.ChannelSMS {
		t.Errorf("stored prefs = %+v", got)
	}
}

func TestPatchPrefsMerges(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	seed := map[string]any{
		"channels":            []string{"email", "sms"},
		"contacts":            map[string]string{"email": "carol@example.com"},
		"trade_notifications": true,
		"risk_alerts":         true,
	}
	resp, raw := ts.do(t, http.MethodPut, "/api/prefs/carol", seed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, body %s", resp.StatusCode, raw)
	}

	// Patch only the risk flag; everything else must survive.
	resp, raw = ts.do(t, http.MethodPatch, "/api/prefs/carol", map[string]any{"risk_alerts": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", resp.StatusCode, raw)
	}
	var got types.UserPreferences
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RiskAlerts {
		t.Error("risk alerts should be off after patch")
	}
	if !got.TradeNotifications || len(got.Channels) != 2 || got.Contacts[types.ChannelEmail] != "carol@example.com" {
		t.Errorf("patched prefs = %+v, want untouched fields preserved", got)
	}
}

func TestPutPrefsUnknownChannel(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	body := map[string]any{"channels": []string{"carrier_pigeon"}}
	resp, raw := ts.do(t, http.MethodPut, "/api/prefs/alice", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", resp.StatusCode, raw)
	}
	if e := decodeAPIError(t, raw); e.Kind != "invalid_preferences" {
		t.Errorf("kind = %s, want invalid_preferences", e.Kind)
	}
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ctx := t.Context()
	for i := 0; i < 3; i++ {
		err := ts.audit.Record(ctx, audit.Entry{Kind: audit.KindOrderPlaced, UserID: "alice", RefID: fmt.Sprintf("ord-%d", i)})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	resp, raw := ts.do(t, http.MethodGet, "/api/audit?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 || entries[0].RefID != "ord-2" {
		t.Errorf("entries = %+v, want newest 2", entries)
	}
}

// stubLink satisfies connector.Connector for route tests.
type stubLink struct {
	meta      connector.Metadata
	connected bool
}

func (s *stubLink) Metadata() connector.Metadata  { return s.meta }
func (s *stubLink) Connected() bool               { return s.connected }
func (s *stubLink) Connect(context.Context) error { s.connected = true; return nil }
func (s *stubLink) Disconnect() error             { s.connected = false; return nil }

func (s *stubLink) SubmitOrder(context.Context, types.Order) (connector.Ack, error) {
	return connector.Ack{}, nil
}

func (s *stubLink) GetMarketData(context.Context, types.Commodity) (connector.Quote, error) {
	return connector.Quote{}, nil
}

func (s *stubLink) SubscribeMarketData(context.Context, []types.Commodity, func(connector.Quote)) error {
	return nil
}

func TestConnectorsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	// No partners configured: an empty list, not an error.
	resp, raw := ts.do(t, http.MethodGet, "/api/connectors", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("body = %s, want []", raw)
	}

	err := ts.connectors.Register(&stubLink{
		meta: connector.Metadata{
			ExchangeID:  "ice-peer",
			Name:        "ICE Peer",
			Region:      "EU",
			Markets:     []types.Commodity{types.CrudeOil},
			Regulations: []string{"REMIT"},
		},
		connected: true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, raw = ts.do(t, http.MethodGet, "/api/connectors", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list []struct {
		ExchangeID string `json:"exchange_id"`
		Region     string `json:"region"`
		Connected  bool   `json:"connected"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 1 || list[0].ExchangeID != "ice-peer" || list[0].Region != "EU" || !list[0].Connected {
		t.Errorf("connectors = %+v", list)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Stream
// ————————————————————————————————————————————————————————————————————————

type streamFrame struct {
	Type      string          `json:"type"`
	Commodity string          `json:"commodity"`
	Data      json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f streamFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal frame %s: %v", raw, err)
	}
	return f
}

func TestWebSocketStream(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := readFrame(t, conn)
	if hello.Type != "hello" {
		t.Fatalf("first frame type = %s, want hello", hello.Type)
	}

	placed := ts.placeOrder(t, limitBody("alice", "sell", "1000", "80.50"))

	frame := readFrame(t, conn)
	if frame.Type != "order_placed" || frame.Commodity != "crude_oil" {
		t.Fatalf("frame = %s/%s, want order_placed/crude_oil", frame.Type, frame.Commodity)
	}
	var o types.Order
	if err := json.Unmarshal(frame.Data, &o); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if o.ID != placed.ID {
		t.Errorf("streamed order %s, want %s", o.ID, placed.ID)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.ServerConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://trade.example.com",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://trade.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://trade.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://trading.internal:8080",
			cfg:     config.ServerConfig{},
			reqHost: "trading.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
