package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MonitorServer exposes /metrics and /healthz for scraping and probes.
type MonitorServer struct {
	port   int
	server *http.Server
}

// NewMonitorServer creates a monitor server on the given port.
func NewMonitorServer(port int) *MonitorServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealth)

	return &MonitorServer{
		port: port,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start serves in the background.
func (m *MonitorServer) Start() {
	go func() {
		slog.Info("monitor_started", "port", m.port)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("monitor_failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (m *MonitorServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "UP",
		"checkTime": time.Now().UTC().Format(time.RFC3339),
	})
}
