package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"enertrade/internal/config"
	"enertrade/pkg/types"
)

const (
	wsReadTimeout      = 90 * time.Second // silent partner triggers a reconnect
	wsWriteTimeout     = 10 * time.Second
	wsMaxReconnectWait = 30 * time.Second
)

// HTTP is a connector backed by a partner's REST and WebSocket API.
// Order submission is authenticated with HMAC headers; market-data reads
// are public.
type HTTP struct {
	meta      Metadata
	http      *resty.Client
	wsURL     string
	apiKey    string
	secret    []byte
	connected atomic.Bool
	logger    *slog.Logger
}

// NewHTTP builds a connector from its config entry.
func NewHTTP(cfg config.ConnectorConfig, logger *slog.Logger) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	markets := make([]types.Commodity, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, types.Commodity(m))
	}

	return &HTTP{
		meta: Metadata{
			ExchangeID:  cfg.ExchangeID,
			Name:        cfg.Name,
			Region:      cfg.Region,
			Markets:     markets,
			Regulations: cfg.Regulations,
		},
		http:   httpClient,
		wsURL:  cfg.WSURL,
		apiKey: cfg.APIKey,
		secret: []byte(cfg.Secret),
		logger: logger.With("component", "connector", "exchange", cfg.ExchangeID),
	}
}

// Metadata returns the partner's descriptor.
func (c *HTTP) Metadata() Metadata { return c.meta }

// Connected reports whether Connect has succeeded and Disconnect has not run.
func (c *HTTP) Connected() bool { return c.connected.Load() }

// Connect probes the partner's health endpoint and marks the link up.
func (c *HTTP) Connect(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.meta.ExchangeID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("connect %s: status %d: %s", c.meta.ExchangeID, resp.StatusCode(), resp.String())
	}

	c.connected.Store(true)
	return nil
}

// Disconnect marks the link down. In-flight subscriptions stop via their
// own contexts.
func (c *HTTP) Disconnect() error {
	c.connected.Store(false)
	return nil
}

// orderPayload is the partner's order submission shape.
type orderPayload struct {
	ClientOrderID string            `json:"client_order_id"`
	UserID        string            `json:"user_id"`
	Commodity     types.Commodity   `json:"commodity"`
	Side          types.Side        `json:"side"`
	Type          types.OrderType   `json:"type"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Price         decimal.Decimal   `json:"price,omitempty"`
	TimeInForce   types.TimeInForce `json:"time_in_force"`
}

// SubmitOrder routes an order to the partner exchange.
func (c *HTTP) SubmitOrder(ctx context.Context, o types.Order) (Ack, error) {
	if !c.connected.Load() {
		return Ack{}, fmt.Errorf("submit order: connector %s not connected", c.meta.ExchangeID)
	}

	payload := orderPayload{
		ClientOrderID: o.ID,
		UserID:        o.UserID,
		Commodity:     o.Commodity,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.Quantity,
		Price:         o.Price,
		TimeInForce:   o.TimeInForce,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("marshal order: %w", err)
	}

	var ack Ack
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signedHeaders(http.MethodPost, "/orders", string(body))).
		SetBody(json.RawMessage(body)).
		SetResult(&ack).
		Post("/orders")
	if err != nil {
		return Ack{}, fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Ack{}, fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order routed to partner", "order_id", o.ID, "external_id", ack.ExternalID)
	return ack, nil
}

// GetMarketData fetches the partner's current quote for a commodity.
func (c *HTTP) GetMarketData(ctx context.Context, commodity types.Commodity) (Quote, error) {
	var quote Quote
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("commodity", string(commodity)).
		SetResult(&quote).
		Get("/marketdata")
	if err != nil {
		return Quote{}, fmt.Errorf("get market data: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Quote{}, fmt.Errorf("get market data: status %d: %s", resp.StatusCode(), resp.String())
	}
	return quote, nil
}

// SubscribeMarketData streams partner quotes to fn until ctx is cancelled.
// Reconnects with exponential backoff (1s doubling to 30s max) and
// re-subscribes on every new connection.
func (c *HTTP) SubscribeMarketData(ctx context.Context, commodities []types.Commodity, fn func(Quote)) error {
	if c.wsURL == "" {
		return fmt.Errorf("subscribe %s: no websocket url configured", c.meta.ExchangeID)
	}

	backoff := time.Second
	for {
		err := c.streamQuotes(ctx, commodities, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("market data stream dropped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnectWait {
			backoff = wsMaxReconnectWait
		}
	}
}

// streamQuotes runs one connection: dial, subscribe, read until failure.
func (c *HTTP) streamQuotes(ctx context.Context, commodities []types.Commodity, fn func(Quote)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Closing the conn is the only way to interrupt a blocked read.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		<-watchCtx.Done()
		conn.Close()
	}()

	sub := struct {
		Op          string            `json:"op"`
		Commodities []types.Commodity `json:"commodities"`
	}{Op: "subscribe", Commodities: commodities}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.logger.Info("market data stream connected", "commodities", len(commodities))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var quote Quote
		if err := json.Unmarshal(msg, &quote); err != nil {
			c.logger.Debug("ignoring malformed quote", "data", string(msg))
			continue
		}
		fn(quote)
	}
}

// signedHeaders authenticates a mutating request:
// signature = hex(HMAC-SHA256(secret, timestamp + method + path + body)).
func (c *HTTP) signedHeaders(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp + method + path + body))

	return map[string]string{
		"X-Exchange-Key":       c.apiKey,
		"X-Exchange-Timestamp": timestamp,
		"X-Exchange-Signature": hex.EncodeToString(mac.Sum(nil)),
	}
}
