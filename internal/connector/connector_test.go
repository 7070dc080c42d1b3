package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const testSecret = "partner-secret"

func testConnectorConfig(url, wsURL string) config.ConnectorConfig {
	return config.ConnectorConfig{
		ExchangeID:  "ice-peer",
		Name:        "ICE Peer",
		URL:         url,
		WSURL:       wsURL,
		APIKey:      "key-1",
		Secret:      testSecret,
		Region:      "EU",
		Markets:     []string{"crude_oil", "natural_gas"},
		Regulations: []string{"REMIT", "MiFID II"},
	}
}

// fakePartner is a minimal partner exchange: health, signed order intake,
// and a quote endpoint.
type fakePartner struct {
	t      *testing.T
	mu     sync.Mutex
	orders []orderPayload
}

func (p *fakePartner) received() []orderPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]orderPayload(nil), p.orders...)
}

func (p *fakePartner) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mac := hmac.New(sha256.New, []byte(testSecret))
		mac.Write([]byte(r.Header.Get("X-Exchange-Timestamp") + "POST" + "/orders" + string(body)))
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("X-Exchange-Signature"); got != want {
			p.t.Errorf("signature = %q, want %q", got, want)
		}
		if key := r.Header.Get("X-Exchange-Key"); key != "key-1" {
			p.t.Errorf("api key header = %q, want key-1", key)
		}

		var payload orderPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			p.t.Errorf("unmarshal order payload: %v", err)
		}
		p.mu.Lock()
		p.orders = append(p.orders, payload)
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Ack{ExternalID: "ext-42", Status: "accepted"})
	})
	mux.HandleFunc("GET /marketdata", func(w http.ResponseWriter, r *http.Request) {
		if c := r.URL.Query().Get("commodity"); c != "crude_oil" {
			http.Error(w, "unknown commodity "+c, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"commodity":"crude_oil","bid":80.25,"ask":80.75,"last":80.50,"at":"2025-06-02T10:00:00Z"}`))
	})
	return mux
}

func newTestConnector(t *testing.T) (*HTTP, *fakePartner) {
	t.Helper()

	partner := &fakePartner{t: t}
	ts := httptest.NewServer(partner.handler())
	t.Cleanup(ts.Close)

	return NewHTTP(testConnectorConfig(ts.URL, ""), newTestLogger()), partner
}

func TestConnectLifecycle(t *testing.T) {
	t.Parallel()
	c, _ := newTestConnector(t)

	if c.Connected() {
		t.Fatal("connector reports connected before Connect")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("connector should report connected after Connect")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.Connected() {
		t.Fatal("connector should report disconnected after Disconnect")
	}

	// Order submission requires an established link.
	if _, err := c.SubmitOrder(context.Background(), types.Order{ID: "o1"}); err == nil {
		t.Fatal("SubmitOrder after Disconnect returned no error")
	}
}

func TestSubmitOrderSignedAndAcked(t *testing.T) {
	t.Parallel()
	c, partner := newTestConnector(t)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	order := types.Order{
		ID:          "ord-7",
		UserID:      "alice",
		Commodity:   types.CrudeOil,
		Side:        types.Buy,
		Type:        types.Limit,
		Quantity:    decimal.RequireFromString("1000"),
		Price:       decimal.RequireFromString("80.50"),
		TimeInForce: types.GTC,
	}
	ack, err := c.SubmitOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ack.ExternalID != "ext-42" || ack.Status != "accepted" {
		t.Errorf("ack = %+v, want ext-42/accepted", ack)
	}

	orders := partner.received()
	if len(orders) != 1 {
		t.Fatalf("partner received %d orders, want 1", len(orders))
	}
	got := orders[0]
	if got.ClientOrderID != "ord-7" || got.Commodity != types.CrudeOil || got.Side != types.Buy {
		t.Errorf("payload = %+v", got)
	}
	if !got.Quantity.Equal(decimal.RequireFromString("1000")) || !got.Price.Equal(decimal.RequireFromString("80.50")) {
		t.Errorf("payload amounts = qty %s price %s", got.Quantity, got.Price)
	}
}

func TestSubmitOrderPartnerRejection(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		http.Error(w, "margin exceeded", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(ts.Close)

	c := NewHTTP(testConnectorConfig(ts.URL, ""), newTestLogger())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := c.SubmitOrder(context.Background(), types.Order{ID: "o1"})
	if err == nil {
		t.Fatal("SubmitOrder returned no error for a 422 response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error = %v, want the partner status surfaced", err)
	}
}

func TestGetMarketData(t *testing.T) {
	t.Parallel()
	c, _ := newTestConnector(t)

	quote, err := c.GetMarketData(context.Background(), types.CrudeOil)
	if err != nil {
		t.Fatalf("GetMarketData: %v", err)
	}
	if quote.Commodity != types.CrudeOil {
		t.Errorf("commodity = %s, want crude_oil", quote.Commodity)
	}
	if !quote.Bid.Equal(decimal.RequireFromString("80.25")) || !quote.Ask.Equal(decimal.RequireFromString("80.75")) {
		t.Errorf("quote = bid %s ask %s, want 80.25/80.75", quote.Bid, quote.Ask)
	}

	if _, err := c.GetMarketData(context.Background(), types.NaturalGas); err == nil {
		t.Error("GetMarketData returned no error for a partner 400")
	}
}

func TestSubscribeMarketDataStreamsQuotes(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub struct {
			Op          string            `json:"op"`
			Commodities []types.Commodity `json:"commodities"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Op != "subscribe" || len(sub.Commodities) != 2 {
			t.Errorf("subscribe message = %+v", sub)
		}

		for _, last := range []string{"80.10", "80.20"} {
			quote := Quote{Commodity: types.CrudeOil, Last: decimal.RequireFromString(last), At: time.Now()}
			if err := conn.WriteJSON(quote); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	cfg := testConnectorConfig("http://unused", "ws"+strings.TrimPrefix(ts.URL, "http"))
	c := NewHTTP(cfg, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quotes := make(chan Quote, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.SubscribeMarketData(ctx, []types.Commodity{types.CrudeOil, types.NaturalGas}, func(q Quote) {
			quotes <- q
		})
	}()

	for i, want := range []string{"80.10", "80.20"} {
		select {
		case q := <-quotes:
			if !q.Last.Equal(decimal.RequireFromString(want)) {
				t.Errorf("quote[%d].Last = %s, want %s", i, q.Last, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for quote %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("SubscribeMarketData returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SubscribeMarketData did not stop on cancel")
	}
}

func TestSubscribeRequiresWSURL(t *testing.T) {
	t.Parallel()

	c := NewHTTP(testConnectorConfig("http://unused", ""), newTestLogger())
	if err := c.SubscribeMarketData(context.Background(), nil, func(Quote) {}); err == nil {
		t.Fatal("SubscribeMarketData returned no error without a websocket url")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Registry
// ————————————————————————————————————————————————————————————————————————

type stubConnector struct {
	meta       Metadata
	connected  bool
	connectErr error
}

func (s *stubConnector) Metadata() Metadata { return s.meta }
func (s *stubConnector) Connected() bool    { return s.connected }

func (s *stubConnector) Connect(context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubConnector) Disconnect() error {
	s.connected = false
	return nil
}

func (s *stubConnector) SubmitOrder(context.Context, types.Order) (Ack, error) {
	return Ack{}, nil
}

func (s *stubConnector) GetMarketData(context.Context, types.Commodity) (Quote, error) {
	return Quote{}, nil
}

func (s *stubConnector) SubscribeMarketData(context.Context, []types.Commodity, func(Quote)) error {
	return nil
}

func TestRegistryRegisterAndList(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newTestLogger())

	if err := r.Register(&stubConnector{meta: Metadata{ExchangeID: "nymex-peer"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubConnector{meta: Metadata{ExchangeID: "ice-peer"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if _, ok := r.Get("ice-peer"); !ok {
		t.Error("Get(ice-peer) not found")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Error("Get(unknown) found a connector")
	}

	all := r.All()
	if len(all) != 2 || all[0].Metadata().ExchangeID != "ice-peer" || all[1].Metadata().ExchangeID != "nymex-peer" {
		ids := make([]string, len(all))
		for i, c := range all {
			ids[i] = c.Metadata().ExchangeID
		}
		t.Errorf("All ids = %v, want sorted [ice-peer nymex-peer]", ids)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newTestLogger())

	if err := r.Register(&stubConnector{meta: Metadata{ExchangeID: "ice-peer"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubConnector{meta: Metadata{ExchangeID: "ice-peer"}}); err == nil {
		t.Fatal("duplicate Register returned no error")
	}
	if err := r.Register(&stubConnector{}); err == nil {
		t.Fatal("empty exchange id Register returned no error")
	}
}

func TestRegistryConnectAllContinuesOnFailure(t *testing.T) {
	t.Parallel()
	r := NewRegistry(newTestLogger())

	bad := &stubConnector{meta: Metadata{ExchangeID: "down-peer"}, connectErr: errors.New("refused")}
	good := &stubConnector{meta: Metadata{ExchangeID: "up-peer"}}
	if err := r.Register(bad); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(good); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.ConnectAll(context.Background())
	if bad.connected {
		t.Error("failing connector reports connected")
	}
	if !good.connected {
		t.Error("healthy connector did not connect")
	}

	r.DisconnectAll()
	if good.connected {
		t.Error("connector still connected after DisconnectAll")
	}
}
