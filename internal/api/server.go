// Package api exposes the engine's loopback control surface: manual
// trade submission, provenance lookup, and a health probe, plus a
// websocket feed pushing position and health updates to any attached
// dashboard (spec §6).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/persistence"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/supervision"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Deps bundles the components the control surface reads from or acts on.
// It never reaches into the orchestrator directly — only through these
// narrow, already-synchronized seams.
type Deps struct {
	Log       *zap.Logger
	Config    types.ServerConfig
	Execution *execution.Engine
	Risk      *risk.Evaluator
	Positions *position.Manager
	Store     *persistence.Store
	Health    *supervision.Registry
	Circuit   *supervision.CircuitBreaker
	Metrics   *supervision.Metrics
	MaxOpen   int
}

// Server is the HTTP + websocket control surface. It binds to loopback
// by default (spec §6) — operators must explicitly widen Host to expose
// it beyond the local machine.
type Server struct {
	mu       sync.RWMutex
	log      *zap.Logger
	cfg      types.ServerConfig
	router   *mux.Router
	http     *http.Server
	upgrader websocket.Upgrader
	limiter  *supervision.RateLimiter

	exec      *execution.Engine
	riskEval  *risk.Evaluator
	positions *position.Manager
	store     *persistence.Store
	health    *supervision.Registry
	circuit   *supervision.CircuitBreaker
	metrics   *supervision.Metrics
	maxOpen   int

	clients map[string]*wsClient
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// tradeRequest is the POST /trade body.
type tradeRequest struct {
	Symbol string          `json:"symbol"`
	Side   types.OrderSide `json:"side"`
	Volume decimal.Decimal `json:"volume"`
	Price  decimal.Decimal `json:"price,omitempty"`
	SL     decimal.Decimal `json:"sl,omitempty"`
	TP     decimal.Decimal `json:"tp,omitempty"`
}

// NewServer builds a Server from d. Call Start to begin serving.
func NewServer(d Deps) *Server {
	s := &Server{
		log:       d.Log.Named("api"),
		cfg:       d.Config,
		router:    mux.NewRouter(),
		exec:      d.Execution,
		riskEval:  d.Risk,
		positions: d.Positions,
		store:     d.Store,
		health:    d.Health,
		circuit:   d.Circuit,
		metrics:   d.Metrics,
		maxOpen:   d.MaxOpen,
		limiter:   supervision.NewRateLimiter(5, 200*time.Millisecond),
		clients:   make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback control surface — same-origin checks don't apply
			// the way they would for a public API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/trade", s.handleTrade).Methods(http.MethodPost)
	s.router.HandleFunc("/provenance", s.handleProvenance).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Start begins serving on cfg.Host:cfg.Port. It blocks until the server
// stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: false,
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info("control surface listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down, closing any attached websocket
// clients first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.TryAcquire() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || req.Volume.IsZero() {
		http.Error(w, "symbol and volume are required", http.StatusBadRequest)
		return
	}

	signal := types.Signal{Symbol: req.Symbol, Side: req.Side, StopLoss: req.SL, TakeProfit: req.TP}
	decision := s.riskEval.Evaluate(signal, decimal.Zero, s.positions.Count(), s.maxOpen, true)
	if !decision.Allowed {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": decision.RejectReason})
		return
	}

	orderReq := types.OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.SL,
		TakeProfit: req.TP,
	}
	result, err := s.exec.Place(r.Context(), orderReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result.Status == types.OrderResultFilled || result.Status == types.OrderResultPartial {
		s.positions.Register(types.Position{
			Ticket: result.Ticket, Symbol: req.Symbol, Side: req.Side, Volume: result.FilledVolume,
			EntryPrice: result.FillPrice, EntryTime: time.Now(), StopLoss: req.SL, TakeProfit: req.TP,
			StrategyName: "manual", Origin: types.PositionOriginEngine,
		})
		s.broadcastPositions()
	}

	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleProvenance(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}
	rec, err := s.store.Provenance(r.Context(), orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.health.Overall()
	body := map[string]interface{}{
		"status":        overall.String(),
		"components":    s.health.Snapshot(),
		"circuit":       s.circuit.State().String(),
		"openPositions": s.positions.Count(),
		"time":          time.Now().Unix(),
	}
	if overall == supervision.HealthDown || s.circuit.State() == supervision.CircuitOpen {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{id: fmt.Sprintf("%p", conn), conn: conn, send: make(chan []byte, 32)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
		close(c.send)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// broadcastPositions pushes the current position snapshot to every
// attached websocket client, dropping slow clients rather than blocking.
func (s *Server) broadcastPositions() {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "position_update",
		"positions": s.positions.Snapshot(),
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.log.Debug("dropping slow websocket client", zap.String("id", c.id))
		}
	}
}

// BroadcastHealth pushes the current health snapshot to every attached
// websocket client. The cron scheduler wired in cmd/engine/main.go calls
// this every 5s, independent of the tick loop.
func (s *Server) BroadcastHealth() {
	payload, err := json.Marshal(map[string]interface{}{
		"type":       "health_update",
		"status":     s.health.Overall().String(),
		"components": s.health.Snapshot(),
		"timestamp":  time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}
