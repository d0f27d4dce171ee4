package http

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"
)

// ChannelChecker reports whether the pub/sub channel is reachable.
type ChannelChecker interface {
	Ping(ctx context.Context) error
}

// ConnectionCounter reports how many clients are connected.
type ConnectionCounter interface {
	ClientCount() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	channel   ChannelChecker
	hub       ConnectionCounter
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(channel ChannelChecker, hub ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{
		channel:   channel,
		hub:       hub,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   string           `json:"timestamp"`
	Version     string           `json:"version,omitempty"`
	Uptime      string           `json:"uptime,omitempty"`
	Connections int              `json:"connections"`
	Checks      map[string]Check `json:"checks,omitempty"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HandleLiveness handles liveness probe requests (is the service running?)
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: h.hub.ClientCount(),
	}

	writeHealth(w, http.StatusOK, response)
}

// HandleReadiness handles readiness probe requests (can the service
// accept traffic?). The relay is ready when the channel is reachable.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overallStatus := "healthy"

	channelCheck := h.checkChannel(ctx)
	checks["pubsub"] = channelCheck
	if channelCheck.Status != "healthy" {
		overallStatus = "unhealthy"
	}

	response := HealthResponse{
		Status:      overallStatus,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Connections: h.hub.ClientCount(),
		Checks:      checks,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeHealth(w, statusCode, response)
}

// HandleHealth handles detailed health check requests (for monitoring/debugging)
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overallStatus := "healthy"

	channelCheck := h.checkChannel(ctx)
	checks["pubsub"] = channelCheck
	if channelCheck.Status != "healthy" {
		overallStatus = "unhealthy"
	}

	checks["runtime"] = Check{
		Status:  "healthy",
		Message: "goroutines: " + strconv.Itoa(runtime.NumGoroutine()),
	}

	response := HealthResponse{
		Status:      overallStatus,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Connections: h.hub.ClientCount(),
		Checks:      checks,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeHealth(w, statusCode, response)
}

// checkChannel verifies pub/sub connectivity with latency measurement
func (h *HealthHandler) checkChannel(ctx context.Context) Check {
	start := time.Now()
	if err := h.channel.Ping(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}
	return Check{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}

func writeHealth(w http.ResponseWriter, status int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
