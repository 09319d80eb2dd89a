// Package server exposes the latest cycle result over HTTP and WebSocket.
// It reads only the pipeline mailbox and never touches the camera or the
// OCR engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clalos/dashwatch/internal/pipeline"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server serves the status API.
type Server struct {
	mailbox  *pipeline.Mailbox
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	started  time.Time
}

// New creates a server reading from mailbox. gatherer backs /metrics.
func New(mailbox *pipeline.Mailbox, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{mailbox: mailbox, gatherer: gatherer, logger: logger, started: time.Now()}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	s.logger.Debug("Status server stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.mailbox.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cycle completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if res, ok := s.mailbox.Latest(); ok {
		payload["last_cycle"] = res.Timestamp.UTC().Format(time.RFC3339)
		payload["last_cycle_id"] = res.CycleID
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleWebSocket pushes the current result, then every new one, until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("WebSocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	changed := s.mailbox.Changed()
	if res, ok := s.mailbox.Latest(); ok {
		if err := s.push(ctx, conn, res); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("WebSocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-changed:
			changed = s.mailbox.Changed()
			res, _ := s.mailbox.Latest()
			if err := s.push(ctx, conn, res); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, res pipeline.Result) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, res); err != nil {
		s.logger.Debug("WebSocket write failed", "error", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
