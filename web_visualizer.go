package main

import (
	"context"

	"github.com/Readm/wb_sim/visual"
)

// WebVisualizer bridges the simulator with the web server.
type WebVisualizer struct {
	server *WebServer
}

// NewWebVisualizer wraps an existing server; the caller runs Serve.
func NewWebVisualizer(server *WebServer) *WebVisualizer {
	return &WebVisualizer{server: server}
}

// IsHeadless is false whenever a server is attached.
func (w *WebVisualizer) IsHeadless() bool {
	return w == nil || w.server == nil
}

// PublishFrame updates the server with the latest frame.
func (w *WebVisualizer) PublishFrame(frame any) {
	if w.IsHeadless() {
		return
	}
	if f, ok := frame.(*SimulationFrame); ok {
		w.server.UpdateFrame(f)
	}
}

// NextCommand returns the next control command if available, non-blocking.
func (w *WebVisualizer) NextCommand() (visual.ControlCommand, bool) {
	if w.IsHeadless() {
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
	return w.server.NextCommand()
}

// WaitCommand blocks for the next control command.
func (w *WebVisualizer) WaitCommand(ctx context.Context) (visual.ControlCommand, bool) {
	if w.IsHeadless() {
		<-ctx.Done()
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
	return w.server.WaitCommand(ctx)
}
