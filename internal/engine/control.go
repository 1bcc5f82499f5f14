package engine

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// ControlServer is the operator HTTP surface: engine status, portfolio state,
// trade history, circuit inspection and override, and prometheus metrics. It
// is read-mostly; the only mutating endpoints are the circuit force-close and
// the engine stop.
type ControlServer struct {
	engine *Engine
	logger *logger.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewControlServer creates a control server bound to the given engine.
func NewControlServer(e *Engine, log *logger.Logger) *ControlServer {
	return &ControlServer{
		engine:     e,
		logger:     log,
		httpServer: nil,
		listener:   nil,
	}
}

// Start begins serving on the given address. If address is empty or ":0", a
// random available port is used.
func (s *ControlServer) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeEngineInitFailed, err, "control server listen on %s failed", address)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.logger.Error("control server terminated", zap.Error(err))
		}
	}()

	s.logger.Info("control server listening", zap.String("address", s.Address()))

	return nil
}

// Stop shuts the control server down.
func (s *ControlServer) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server is listening on.
func (s *ControlServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Router builds the HTTP route table. Exposed separately so tests can drive
// the handlers without a listener.
func (s *ControlServer) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/trades", s.handleTrades).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/circuit", s.handleCircuit).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/circuit/close", s.handleCircuitForceClose).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/engine/stop", s.handleEngineStop).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/config/schema", s.handleConfigSchema).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.engine.Registry(), promhttp.HandlerOpts{})) //nolint:exhaustruct

	return router
}

type statusResponse struct {
	Status              string  `json:"status"`
	CircuitState        string  `json:"circuit_state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	OpenPositions       int     `json:"open_positions"`
	ActiveStops         int     `json:"active_stops"`
	Cash                float64 `json:"cash"`
	RealizedPnL         float64 `json:"realized_pnl"`
}

func (s *ControlServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	e := s.engine

	s.writeJSON(w, statusResponse{
		Status:              string(e.Status()),
		CircuitState:        string(e.breaker.State()),
		ConsecutiveFailures: e.breaker.ConsecutiveFailures(),
		OpenPositions:       e.store.OpenPositionCount(),
		ActiveStops:         e.stops.ActiveCount(),
		Cash:                e.store.Cash(),
		RealizedPnL:         e.store.RealizedPnL(),
	})
}

func (s *ControlServer) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.engine.store.Snapshot())
}

func (s *ControlServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.engine.history.Trades(r.URL.Query().Get("symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, trades)
}

type circuitResponse struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (s *ControlServer) handleCircuit(w http.ResponseWriter, _ *http.Request) {
	breaker := s.engine.Breaker()

	s.writeJSON(w, circuitResponse{
		State:               string(breaker.State()),
		ConsecutiveFailures: breaker.ConsecutiveFailures(),
	})
}

func (s *ControlServer) handleCircuitForceClose(w http.ResponseWriter, _ *http.Request) {
	breaker := s.engine.Breaker()
	before := breaker.State()

	breaker.ForceClose()
	s.logger.Warn("operator force-closed the circuit", zap.String("previous_state", string(before)))

	s.writeJSON(w, circuitResponse{
		State:               string(breaker.State()),
		ConsecutiveFailures: breaker.ConsecutiveFailures(),
	})
}

func (s *ControlServer) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	w.WriteHeader(http.StatusAccepted)
}

func (s *ControlServer) handleConfigSchema(w http.ResponseWriter, _ *http.Request) {
	schema, err := config.GetConfigSchema()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write([]byte(schema)); err != nil {
		s.logger.Warn("schema response write failed", zap.Error(err))
	}
}

func (s *ControlServer) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("control response write failed", zap.Error(err))
	}
}
