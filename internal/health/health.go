// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for the Queue
// Engine's optional --daemon mode.
//
// The health check exposes queue status at /healthz as JSON, suitable for
// systemd watchdog, load balancer probes, or monitoring systems. A
// Prometheus-compatible /metrics endpoint is also served, giving queue
// depth and last-run outcome gauges for fleet monitoring.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// QueueDepths reports the number of MediaGroups currently sitting in each
// queue state directory (§6 worker-host layout).
type QueueDepths struct {
	Inbox      int `json:"inbox"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// RecentOutcome is one entry from the tail of processed_files.txt.
type RecentOutcome struct {
	Basename string `json:"basename"`
	Outcome  string `json:"outcome"`
	At       string `json:"at"`
}

// QueueStatus describes the Queue Engine's current state.
type QueueStatus struct {
	CurrentFile string          `json:"current_file,omitempty"`
	Depths      QueueDepths     `json:"depths"`
	Recent      []RecentOutcome `json:"recent,omitempty"`
	Healthy     bool            `json:"healthy"`
	Error       string          `json:"error,omitempty"`
}

// StatusProvider returns the current queue status. cmd/stentor-queue's
// --daemon loop implements this interface over a live Engine.
type StatusProvider interface {
	Status() QueueStatus
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Queue     QueueStatus `json:"queue"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider StatusProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}

	var status QueueStatus
	if h.provider != nil {
		status = h.provider.Status()
	}
	resp.Queue = status

	if status.Healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without an
// external dependency.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var status QueueStatus
	if h.provider != nil {
		status = h.provider.Status()
	}

	healthy := 0
	if status.Healthy {
		healthy = 1
	}
	fmt.Fprintln(&sb, "# HELP stentor_queue_healthy Is the Queue Engine currently healthy (1=healthy, 0=not).")
	fmt.Fprintln(&sb, "# TYPE stentor_queue_healthy gauge")
	fmt.Fprintf(&sb, "stentor_queue_healthy %d\n", healthy)

	fmt.Fprintln(&sb, "# HELP stentor_queue_depth Number of MediaGroups currently in each queue state.")
	fmt.Fprintln(&sb, "# TYPE stentor_queue_depth gauge")
	fmt.Fprintf(&sb, "stentor_queue_depth{state=%q} %d\n", "inbox", status.Depths.Inbox)
	fmt.Fprintf(&sb, "stentor_queue_depth{state=%q} %d\n", "processing", status.Depths.Processing)
	fmt.Fprintf(&sb, "stentor_queue_depth{state=%q} %d\n", "completed", status.Depths.Completed)
	fmt.Fprintf(&sb, "stentor_queue_depth{state=%q} %d\n", "failed", status.Depths.Failed)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness once bound, so callers can detect port-in-use failures
// immediately instead of only on ctx cancellation.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
