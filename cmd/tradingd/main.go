// Enertrade Trading Core — the order matching and risk backbone of an
// energy-commodities trading platform.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/engine.go       — trading core: validates orders, runs the matching cycle per commodity
//	matching/matching.go   — price-time priority matching against the resting book
//	book/book.go           — per-commodity limit order book (bids high→low, asks low→high)
//	ledger/ledger.go       — positions: weighted-average cost, realized and unrealized P&L
//	oracle/oracle.go       — reference prices: simulated (seeded jitter) or polled live feed
//	session/session.go     — trading-hours schedule, day-order expiry boundary
//	bus/bus.go             — in-process event bus fanning out order and trade events
//	orchestrator/          — consumes events: audit trail, risk sweep, notifications
//	risk/risk.go           — margin, concentration, position and velocity limit checks
//	notify/                — signed webhook and log sinks honouring user preferences
//	prefs/prefs.go         — per-user notification preferences (JSON files + TTL cache)
//	audit/                 — append-only compliance log (SQLite, 90-day retention)
//	connector/             — outbound links to partner exchanges (signed REST + websocket quotes)
//	api/server.go          — REST + WebSocket surface for orders, books, portfolios
//
// How orders flow:
//
//	A submitted order is validated, stamped, and matched against the opposite
//	side of its commodity's book. Fills execute at the resting order's price;
//	market-order residuals fill against the platform at the oracle price.
//	Every placement, fill, modification, and cancellation is published on the
//	bus, where the orchestrator audits it, re-checks the owner's risk limits,
//	and notifies counterparties that asked to hear about it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"enertrade/internal/api"
	"enertrade/internal/audit"
	"enertrade/internal/bus"
	"enertrade/internal/config"
	"enertrade/internal/connector"
	"enertrade/internal/engine"
	"enertrade/internal/metrics"
	"enertrade/internal/notify"
	"enertrade/internal/oracle"
	"enertrade/internal/orchestrator"
	"enertrade/internal/prefs"
	"enertrade/internal/risk"
	"enertrade/internal/session"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ENERTRADE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	collector := metrics.New(prometheus.DefaultRegisterer)

	sched, err := session.New(cfg.Trading)
	if err != nil {
		logger.Error("failed to build trading session", "error", err)
		os.Exit(1)
	}

	// Price source: the simulator owns its prices in memory; the live feed
	// gets a TTL cache so the matching path never blocks on a fetch.
	var src oracle.Source
	var px oracle.Oracle
	switch cfg.Oracle.Mode {
	case "feed":
		feed := oracle.NewFeed(cfg, logger)
		src = feed
		px = oracle.NewCached(feed, cfg.Oracle.CacheTTL)
	default:
		sim := oracle.NewSimulated(cfg, time.Now().UnixNano())
		src = sim
		px = sim
	}
	oracleCtx, stopOracle := context.WithCancel(context.Background())
	go src.Run(oracleCtx)

	evbus := bus.New(cfg.Bus, logger)

	eng := engine.New(cfg, px, src.Updates(), evbus, sched, collector, logger)

	// An empty audit path disables the compliance log.
	var auditSink audit.Sink = audit.Nop{}
	if cfg.Audit.DBPath != "" {
		s, err := audit.Open(cfg.Audit)
		if err != nil {
			logger.Error("failed to open audit log", "error", err, "path", cfg.Audit.DBPath)
			os.Exit(1)
		}
		auditSink = s
	}

	prefStore, err := prefs.Open(cfg.Prefs)
	if err != nil {
		logger.Error("failed to open preferences store", "error", err, "dir", cfg.Prefs.DataDir)
		os.Exit(1)
	}

	var sink notify.Sink
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhook(cfg.Notify, collector, logger)
	} else {
		sink = notify.NewLog(collector, logger)
	}

	eval := risk.NewLimitEvaluator(cfg, logger)
	orch := orchestrator.New(cfg, eng, evbus, eval, prefStore, sink, auditSink, collector, logger)
	orch.Start()

	// Partner exchange links are a peer service: the matching core never
	// waits on them, so a partner being down must not block startup.
	registry := connector.NewRegistry(logger)
	for _, cc := range cfg.Connectors {
		if err := registry.Register(connector.NewHTTP(cc, logger)); err != nil {
			logger.Error("failed to register connector", "error", err, "exchange", cc.ExchangeID)
			os.Exit(1)
		}
	}

	eng.Start()
	if registry.Len() > 0 {
		registry.ConnectAll(context.Background())
	}

	// Start API server if enabled
	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(cfg.Server, eng, evbus, prefStore, auditSink, registry, collector, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
		logger.Info("api started", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
	}

	logger.Info("trading core started",
		"oracle_mode", cfg.Oracle.Mode,
		"session", cfg.Trading.SessionStart+"-"+cfg.Trading.SessionEnd,
		"session_enforced", cfg.Trading.EnforceHours,
		"max_order_size", cfg.Trading.MaxOrderSize,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop inbound order flow first, then the price feed and engine, then
	// drain the bus so the orchestrator sees every event before it detaches.
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
	stopOracle()
	eng.Stop()
	evbus.Close()
	orch.Stop()
	registry.DisconnectAll()

	if err := auditSink.Close(); err != nil {
		logger.Error("failed to close audit log", "error", err)
	}
	if err := prefStore.Close(); err != nil {
		logger.Error("failed to close preferences store", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
