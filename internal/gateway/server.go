package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"autotrader-simv1/internal/execution"
	"autotrader-simv1/internal/model"
	"autotrader-simv1/internal/report"
	"autotrader-simv1/internal/strategy"
)

// History is the durable order/trade store behind the history endpoints.
type History interface {
	GetTrades(ctx context.Context, limit int) ([]model.Trade, error)
	OrderStatusCounts(ctx context.Context) (map[model.OrderStatus]int, error)
}

// Server exposes the engine over REST and the activity stream over WebSocket.
type Server struct {
	eng     *strategy.Engine
	hub     *Hub
	history History
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory enables /trades/history and /orders/stats.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// NewServer creates a server. hub may be nil to disable /ws.
func NewServer(eng *strategy.Engine, hub *Hub, opts ...Option) *Server {
	s := &Server{eng: eng, hub: hub}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/state", s.getState)
		r.Get("/wallet", s.getWallet)
		r.Get("/risk", s.getRisk)
		r.Get("/positions", s.getPositions)
		r.Get("/orders", s.getOrders)
		r.Post("/orders/{orderID}/cancel", s.cancelOrder)
		r.Get("/trades", s.getTrades)
		r.Get("/activity", s.getActivity)
		r.Get("/report.xlsx", s.getReport)

		if s.history != nil {
			r.Get("/trades/history", s.getTradeHistory)
			r.Get("/orders/stats", s.getOrderStats)
		}

		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", s.listStrategies)
			r.Post("/", s.createStrategy)
			r.Get("/{strategyID}", s.getStrategy)
			r.Put("/{strategyID}", s.updateStrategy)
			r.Delete("/{strategyID}", s.deleteStrategy)
			r.Post("/{strategyID}/status", s.setStrategyStatus)
		})

		r.Route("/engine", func(r chi.Router) {
			r.Post("/start", s.startEngine)
			r.Post("/stop", s.command(func(string) { s.eng.Stop() }))
			r.Post("/pause", s.command(func(string) { s.eng.Pause() }))
			r.Post("/reset", s.command(func(string) { s.eng.Reset() }))
			r.Post("/emergency-stop", s.command(s.eng.EmergencyStop))
			r.Post("/lock", s.command(s.eng.Lock))
		})
	})
	return r
}

// ──────────────────────────────────────────────────────────────
// Read endpoints
// ──────────────────────────────────────────────────────────────

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Wallet())
}

func (s *Server) getRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Risk())
}

func (s *Server) getPositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") == "open" {
		writeJSON(w, http.StatusOK, s.eng.OpenPositions())
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Positions())
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.eng.Orders()
	if st := r.URL.Query().Get("status"); st != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == st {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Trades())
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Activity(limit))
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.xlsx"`)
	if err := report.Write(w, s.eng.Trades(), s.eng.Wallet()); err != nil {
		slog.Error("report export failed", "error", err)
	}
}

func (s *Server) getTradeHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	trades, err := s.history.GetTrades(r.Context(), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) getOrderStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.history.OrderStatusCounts(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// ──────────────────────────────────────────────────────────────
// Strategies
// ──────────────────────────────────────────────────────────────

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Registry().List())
}

func (s *Server) getStrategy(w http.ResponseWriter, r *http.Request) {
	st, ok := s.eng.Registry().Get(chi.URLParam(r, "strategyID"))
	if !ok {
		writeError(w, "strategy not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) createStrategy(w http.ResponseWriter, r *http.Request) {
	var st model.Strategy
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	st.Status = ""
	created, err := s.eng.Registry().Add(st)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateStrategy(w http.ResponseWriter, r *http.Request) {
	var st model.Strategy
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	// Status moves only through /status.
	st.ID = chi.URLParam(r, "strategyID")
	st.Status = ""
	updated, err := s.eng.UpdateStrategy(st)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.RemoveStrategy(chi.URLParam(r, "strategyID")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setStrategyStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "strategyID")
	if err := s.eng.SetStrategyStatus(id, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	st, _ := s.eng.Registry().Get(id)
	writeJSON(w, http.StatusOK, st)
}

// ──────────────────────────────────────────────────────────────
// Engine commands
// ──────────────────────────────────────────────────────────────

func (s *Server) startEngine(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Start(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

// command wraps an engine command that takes an optional reason.
func (s *Server) command(fn func(reason string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "requested via api"
		}
		fn(req.Reason)
		writeJSON(w, http.StatusOK, s.eng.Snapshot())
	}
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.eng.CancelOrder(chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ──────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────

func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrStrategyNotFound), errors.Is(err, execution.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrInvalidStrategy):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrNoActiveStrategies),
		errors.Is(err, strategy.ErrRiskLocked),
		errors.Is(err, strategy.ErrNotCancellable),
		errors.Is(err, strategy.ErrStrategyRunning),
		errors.Is(err, strategy.ErrStrategyBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return n, nil
}
