package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"enertrade/internal/audit"
	"enertrade/internal/config"
	"enertrade/internal/connector"
	"enertrade/internal/engine"
	"enertrade/internal/prefs"
	"enertrade/pkg/types"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	engine     *engine.Engine
	prefs      *prefs.Store
	audit      audit.Sink
	connectors *connector.Registry
	hub        *Hub
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHandlers creates the handler set. The WebSocket upgrader checks
// origins against the server config.
func NewHandlers(eng *engine.Engine, prefStore *prefs.Store, auditSink audit.Sink, registry *connector.Registry, hub *Hub, cfg config.ServerConfig, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:     eng,
		prefs:      prefStore,
		audit:      auditSink,
		connectors: registry,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(r.Header.Get("Origin"), cfg, r.Host)
			},
		},
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandlePlaceOrder accepts a new order. A rejected order is still recorded;
// its final state rides along in the error body so clients can query it.
func (h *Handlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "decode order: "+err.Error())
		return
	}

	order, err := h.engine.PlaceOrder(req.toPlaceRequest())
	if err != nil {
		h.writeError(w, err, order)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// HandleGetOrder returns one order by id.
func (h *Handlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.GetOrder(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// HandleModifyOrder applies partial changes to a working order.
func (h *Handlers) HandleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "decode changes: "+err.Error())
		return
	}

	order, err := h.engine.ModifyOrder(r.PathValue("id"), req.toChanges())
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// HandleCancelOrder cancels a working order.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.CancelOrder(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// HandleListOrders returns a user's orders, optionally filtered by status.
func (h *Handlers) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		h.badRequest(w, "user query parameter required")
		return
	}

	orders := h.engine.UserOrders(user, types.OrderStatus(r.URL.Query().Get("status")))
	if orders == nil {
		orders = []*types.Order{}
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleTrades returns recent trades, newest first.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := engine.TradeFilter{
		UserID:    q.Get("user"),
		Commodity: types.Commodity(q.Get("commodity")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	trades := h.engine.TradeHistory(filter)
	if trades == nil {
		trades = []*types.Trade{}
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleBook returns an aggregated book snapshot for one commodity.
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	var depth int
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			h.badRequest(w, "depth must be a non-negative integer")
			return
		}
		depth = d
	}

	snap, err := h.engine.BookSnapshot(types.Commodity(r.PathValue("commodity")), depth)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandlePortfolio returns a user's marked portfolio summary.
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Portfolio(r.PathValue("user")))
}

// HandleGetPrefs returns the user's notification preferences, defaults
// included for users who never saved any.
func (h *Handlers) HandleGetPrefs(w http.ResponseWriter, r *http.Request) {
	p, err := h.prefs.Get(r.PathValue("user"))
	if err != nil {
		h.writePrefsError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandlePutPrefs replaces the user's notification preferences.
func (h *Handlers) HandlePutPrefs(w http.ResponseWriter, r *http.Request) {
	var p types.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.badRequest(w, "decode preferences: "+err.Error())
		return
	}
	p.UserID = r.PathValue("user")

	if err := h.prefs.Put(&p); err != nil {
		h.writePrefsError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &p)
}

// HandlePatchPrefs merges a partial preferences change into the stored set.
func (h *Handlers) HandlePatchPrefs(w http.ResponseWriter, r *http.Request) {
	var patch prefs.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.badRequest(w, "decode preferences patch: "+err.Error())
		return
	}

	p, err := h.prefs.Update(r.PathValue("user"), patch)
	if err != nil {
		h.writePrefsError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// HandleAudit returns the newest audit entries.
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit unavailable", Kind: "internal"})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// HandleConnectors lists the configured partner exchange links and their
// connection state.
func (h *Handlers) HandleConnectors(w http.ResponseWriter, r *http.Request) {
	out := []connectorStatus{}
	for _, c := range h.connectors.All() {
		out = append(out, connectorStatus{Metadata: c.Metadata(), Connected: c.Connected()})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleWebSocket upgrades the connection and greets the client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	hello, err := json.Marshal(StreamEvent{
		Type:      "hello",
		Timestamp: time.Now(),
		Data:      helloEvent{Commodities: types.Commodities},
	})
	if err != nil {
		h.logger.Error("marshal hello event", "error", err)
		return
	}
	select {
	case client.send <- hello:
	default:
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handlers) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "bad_request"})
}

// writeError maps engine errors onto HTTP statuses. A non-nil order is
// attached so clients see the recorded state of a rejected order.
func (h *Handlers) writeError(w http.ResponseWriter, err error, order *types.Order) {
	status, kind := errorKind(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind, Order: order})
}

func (h *Handlers) writePrefsError(w http.ResponseWriter, err error) {
	if errors.Is(err, prefs.ErrInvalid) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "invalid_preferences"})
		return
	}
	h.logger.Error("preferences store failed", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "preferences unavailable", Kind: "internal"})
}

// errorKind folds the engine's error taxonomy into status codes and stable
// kind strings.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, types.ErrUnsupportedCommodity):
		return http.StatusBadRequest, "unsupported_commodity"
	case errors.Is(err, types.ErrSizeLimit):
		return http.StatusUnprocessableEntity, "size_limit_exceeded"
	case errors.Is(err, types.ErrRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, types.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, types.ErrMarketClosed):
		return http.StatusConflict, "market_closed"
	}
	return http.StatusInternalServerError, "internal"
}
