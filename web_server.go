package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Readm/wb_sim/logger"
	"github.com/Readm/wb_sim/plugins/tracer"
	"github.com/Readm/wb_sim/visual"
)

// WebServer provides HTTP endpoints for inspection and control.
type WebServer struct {
	mu          sync.RWMutex
	latestFrame *SimulationFrame
	latestStats *SimulationStats
	traceSource func() []tracer.Event
	commands    CommandQueue
	server      *http.Server
}

// NewWebServer creates a server bound to addr. Call Serve to start it.
func NewWebServer(addr string) *WebServer {
	ws := &WebServer{
		commands: newChannelCommandQueue(10),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/frame", ws.handleFrame)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/addressmap", ws.handleAddressMap)
	mux.HandleFunc("/api/trace", ws.handleTrace)
	mux.HandleFunc("/api/control", ws.handleControl)

	ws.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the HTTP handler.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.server.ListenAndServe()
	}()
	logger.Get().Infof("web server listening on http://%s", ws.server.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "web server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ws.server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "web server shutdown")
		}
		return nil
	}
}

// UpdateFrame updates the latest frame and stats.
func (ws *WebServer) UpdateFrame(frame *SimulationFrame) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.latestFrame = frame
	if frame != nil {
		ws.latestStats = frame.Stats
	}
}

// SetTraceSource wires /api/trace to a recorder.
func (ws *WebServer) SetTraceSource(fn func() []tracer.Event) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.traceSource = fn
}

// NextCommand returns the next control command if available, non-blocking.
func (ws *WebServer) NextCommand() (visual.ControlCommand, bool) {
	return ws.commands.TryDequeue()
}

// WaitCommand blocks for the next control command.
func (ws *WebServer) WaitCommand(ctx context.Context) (visual.ControlCommand, bool) {
	return ws.commands.Next(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ws.mu.RLock()
	frame := ws.latestFrame
	ws.mu.RUnlock()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusNotFound)
		return
	}
	writeJSON(w, frame)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ws.mu.RLock()
	stats := ws.latestStats
	ws.mu.RUnlock()
	if stats == nil {
		http.Error(w, "No stats available", http.StatusNotFound)
		return
	}
	writeJSON(w, stats)
}

func (ws *WebServer) handleAddressMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ws.mu.RLock()
	frame := ws.latestFrame
	ws.mu.RUnlock()
	if frame == nil || frame.AddressMap == nil {
		http.Error(w, "No address map available", http.StatusNotFound)
		return
	}
	writeJSON(w, frame.AddressMap)
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ws.mu.RLock()
	src := ws.traceSource
	ws.mu.RUnlock()
	if src == nil {
		http.Error(w, "Tracing not enabled", http.StatusNotFound)
		return
	}
	writeJSON(w, src())
}

type controlStatus struct {
	Pending  int `json:"pending"`
	Capacity int `json:"capacity"`
}

type controlRequest struct {
	Type   string  `json:"type"`
	Cycles int     `json:"cycles,omitempty"`
	Config *Config `json:"config,omitempty"`
}

func (ws *WebServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, controlStatus{Pending: ws.commands.Len(), Capacity: ws.commands.Cap()})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ct, ok := visual.ParseCommandType(req.Type)
	if !ok {
		http.Error(w, "Invalid command type", http.StatusBadRequest)
		return
	}
	cmd := visual.ControlCommand{Type: ct}
	switch ct {
	case visual.CommandStep:
		if req.Cycles < 0 {
			http.Error(w, "cycles must be non-negative", http.StatusBadRequest)
			return
		}
		cmd.Cycles = req.Cycles
	case visual.CommandReset:
		if req.Config != nil {
			cfg := req.Config.Clone()
			if err := ValidateConfig(cfg); err != nil {
				http.Error(w, "Invalid config: "+err.Error(), http.StatusBadRequest)
				return
			}
			cmd.ConfigOverride = cfg
		}
		// a reset supersedes whatever is still queued
		if n := ws.commands.Drain(); n > 0 {
			logger.Get().Debugf("reset dropped %d queued commands", n)
		}
	}

	if !ws.commands.Enqueue(cmd) {
		http.Error(w, "Command queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Command accepted"))
}
