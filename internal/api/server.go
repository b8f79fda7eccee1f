// Package api is the admin surface: a REST API for querying signals, orders
// and analytics, manual job triggers, scheduler control, and a WebSocket
// stream of trading events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"signalbot/internal/logger"
	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/scheduler"
)

// Server serves the admin REST API and WebSocket stream.
type Server struct {
	addr      string
	signals   model.SignalStore
	orders    model.OrderStore
	analytics model.AnalyticsStore
	sched     *scheduler.Scheduler
	hub       *Hub

	started time.Time
	httpSrv *http.Server
}

// New creates the admin server.
func New(addr string, signals model.SignalStore, orders model.OrderStore,
	analytics model.AnalyticsStore, sched *scheduler.Scheduler, hub *Hub) *Server {

	s := &Server{
		addr:      addr,
		signals:   signals,
		orders:    orders,
		analytics: analytics,
		sched:     sched,
		hub:       hub,
		started:   time.Now(),
	}

	r := mux.NewRouter()
	r.Use(traceMiddleware)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/signals", s.handleSignals).Methods(http.MethodGet)
	r.HandleFunc("/api/signals/{id}", s.handleSignal).Methods(http.MethodGet)
	r.HandleFunc("/api/orders", s.handleOrders).Methods(http.MethodGet)
	r.HandleFunc("/api/orders/{id}", s.handleOrder).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics", s.handleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/range", s.handleAnalyticsRange).Methods(http.MethodGet)

	r.HandleFunc("/api/jobs/{name}/trigger", s.handleTrigger).Methods(http.MethodPost)
	r.HandleFunc("/api/scheduler/start", s.handleSchedulerStart).Methods(http.MethodPost)
	r.HandleFunc("/api/scheduler/stop", s.handleSchedulerStop).Methods(http.MethodPost)
	r.HandleFunc("/api/scheduler/status", s.handleSchedulerStatus).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.HandleWS)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"market_open":   markethours.IsMarketOpen(now),
		"market_status": markethours.StatusString(now),
		"scheduler":     s.sched.IsRunning(),
		"ws_clients":    s.hub.ClientCount(),
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signals, err := s.signals.SignalsBetween(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signals": signals, "count": len(signals)})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := s.signals.GetSignal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sig == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("signal not found"))
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := s.orders.OrdersBetween(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("order not found"))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if q := r.URL.Query().Get("day"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, markethours.IST)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad day %q", q))
			return
		}
		day = parsed
	}
	da, err := s.analytics.Analytics(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if da == nil {
		da = &model.DailyAnalytics{Day: model.DayKey(day.In(markethours.IST))}
	}
	writeJSON(w, http.StatusOK, da)
}

func (s *Server) handleAnalyticsRange(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	days, err := s.analytics.AnalyticsRange(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "count": len(days)})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.sched.TriggerJob(r.Context(), name); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"triggered": name})
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.sched.IsRunning(),
		"jobs":    s.sched.JobNames(),
	})
}

// timeRange parses from/to query params (RFC3339 or "2006-01-02" in IST),
// defaulting to the current exchange-time day.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().In(markethours.IST)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, markethours.IST)
	to := from.Add(24 * time.Hour)

	var err error
	if q := r.URL.Query().Get("from"); q != "" {
		if from, err = parseTime(q); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad from %q", q)
		}
	}
	if q := r.URL.Query().Get("to"); q != "" {
		if to, err = parseTime(q); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad to %q", q)
		}
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, markethours.IST)
}

// traceMiddleware assigns each admin request a trace ID and logs it with
// method, path and latency.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := logger.WithTraceID(req.Context(),
			logger.GenerateTraceID(req.URL.Path, time.Now()))

		start := time.Now()
		next.ServeHTTP(w, req.WithContext(ctx))

		attrs := []any{
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Duration("took", time.Since(start)),
		}
		slog.Info("admin request", append(attrs, logger.LogWithTrace(ctx)...)...)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
