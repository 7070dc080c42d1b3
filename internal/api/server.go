// Package api serves the platform's HTTP and WebSocket surface: order
// entry and management, book/trade/portfolio queries, notification
// preferences, the audit trail, Prometheus metrics, and a live event
// stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"enertrade/internal/audit"
	"enertrade/internal/bus"
	"enertrade/internal/config"
	"enertrade/internal/connector"
	"enertrade/internal/engine"
	"enertrade/internal/metrics"
	"enertrade/internal/prefs"
	"enertrade/pkg/types"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	bus      *bus.Bus
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	metrics  *metrics.Collector
	unsub    func()
	logger   *slog.Logger
}

// NewServer wires the routes. The engine serves queries and order flow,
// the bus feeds the WebSocket stream.
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	evbus *bus.Bus,
	prefStore *prefs.Store,
	auditSink audit.Sink,
	registry *connector.Registry,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Server {
	hub := NewHub(collector, logger)
	handlers := NewHandlers(eng, prefStore, auditSink, registry, hub, cfg, logger)

	s := &Server{
		cfg:      cfg,
		bus:      evbus,
		hub:      hub,
		handlers: handlers,
		metrics:  collector,
		logger:   logger.With("component", "api-server"),
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /health", handlers.HandleHealth)
	s.route(mux, "POST /api/orders", handlers.HandlePlaceOrder)
	s.route(mux, "GET /api/orders", handlers.HandleListOrders)
	s.route(mux, "GET /api/orders/{id}", handlers.HandleGetOrder)
	s.route(mux, "PATCH /api/orders/{id}", handlers.HandleModifyOrder)
	s.route(mux, "DELETE /api/orders/{id}", handlers.HandleCancelOrder)
	s.route(mux, "GET /api/trades", handlers.HandleTrades)
	s.route(mux, "GET /api/book/{commodity}", handlers.HandleBook)
	s.route(mux, "GET /api/portfolio/{user}", handlers.HandlePortfolio)
	s.route(mux, "GET /api/prefs/{user}", handlers.HandleGetPrefs)
	s.route(mux, "PUT /api/prefs/{user}", handlers.HandlePutPrefs)
	s.route(mux, "PATCH /api/prefs/{user}", handlers.HandlePatchPrefs)
	s.route(mux, "GET /api/audit", handlers.HandleAudit)
	s.route(mux, "GET /api/connectors", handlers.HandleConnectors)

	// The stream upgrade hijacks the connection and metrics are already
	// separately collected, so neither route is instrumented.
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// route registers an instrumented handler. The pattern, not the raw URL,
// becomes the metric label so cardinality stays bounded.
func (s *Server) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.RecordAPIRequest(method, path, strconv.Itoa(rec.status), time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start runs the hub, subscribes the stream to the event bus, and serves
// until Stop. It blocks, returning only on listener failure or shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.subscribeStream()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// subscribeStream forwards bus events to connected stream clients.
func (s *Server) subscribeStream() {
	s.unsub = s.bus.Subscribe("api-stream", bus.Handlers{
		OnOrderPlaced: func(o types.Order) {
			s.hub.Broadcast(StreamEvent{Type: "order_placed", Timestamp: time.Now(), Commodity: string(o.Commodity), Data: o})
		},
		OnOrderModified: func(m bus.OrderModification) {
			s.hub.Broadcast(StreamEvent{Type: "order_modified", Timestamp: time.Now(), Commodity: string(m.After.Commodity), Data: orderModifiedEvent{Before: m.Before, After: m.After}})
		},
		OnOrderCancelled: func(o types.Order) {
			s.hub.Broadcast(StreamEvent{Type: "order_cancelled", Timestamp: time.Now(), Commodity: string(o.Commodity), Data: o})
		},
		OnTradeExecuted: func(tr types.Trade) {
			s.hub.Broadcast(StreamEvent{Type: "trade_executed", Timestamp: time.Now(), Commodity: string(tr.Commodity), Data: tr})
		},
	})
}

// Stop drains the listener and disconnects stream clients.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	if s.unsub != nil {
		s.unsub()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)

	s.hub.Close()
	return err
}
