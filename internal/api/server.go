// Package api serves read-only loop state to dashboards and alerting, plus the partial-fill acknowledgement.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/ledger"
	"spreadbot-go/internal/metrics"
)

const maxTradesLimit = ledger.WindowCap

// Loop is the observer surface of the trading loop.
type Loop interface {
	Snapshot() engine.Snapshot
	Acknowledge() bool
}

// Trades is the read side of the trade ledger.
type Trades interface {
	Recent(n int) []execution.TradeRecord
	RecentStats(window int) (ledger.Summary, error)
}

// Server wires routes onto a gorilla/mux router.
type Server struct {
	log    zerolog.Logger
	loop   Loop
	trades Trades
	hub    *Hub
	router *mux.Router
	server *http.Server
}

// NewServer builds the router. hub may be nil, in which case /ws is not served.
func NewServer(addr string, log zerolog.Logger, loop Loop, trades Trades, hub *Hub) *Server {
	s := &Server{
		log:    log.With().Str("component", "api").Logger(),
		loop:   loop,
		trades: trades,
		hub:    hub,
		router: mux.NewRouter(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/ack", s.handleAck).Methods(http.MethodPost)

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.Handler())
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("observer api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes websocket subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "state": snap.State, "paused": snap.Paused})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loop.Snapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", ledger.DefaultRecentWindow)
	if err != nil || limit <= 0 || limit > maxTradesLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxTradesLimit))
		return
	}
	writeJSON(w, http.StatusOK, s.trades.Recent(limit))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r, "window", ledger.DefaultRecentWindow)
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "window must be a positive integer")
		return
	}
	summary, err := s.trades.RecentStats(window)
	if errors.Is(err, ledger.ErrInsufficientData) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "summary unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	acknowledged := s.loop.Acknowledge()
	s.log.Info().Bool("acknowledged", acknowledged).Str("remote", r.RemoteAddr).Msg("partial fill acknowledgement")
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": acknowledged})
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString()[:8])
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upgraded connections need the raw writer for hijacking.
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", rec.status).
			Dur("latency", time.Since(start)).Str("request_id", w.Header().Get("X-Request-ID")).Msg("http request")
	})
}
