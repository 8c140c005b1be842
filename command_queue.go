package main

import (
	"context"

	"github.com/Readm/wb_sim/visual"
)

// CommandQueue carries control commands from the web front end to the
// simulator's Run loop.
type CommandQueue interface {
	Enqueue(cmd visual.ControlCommand) bool
	TryDequeue() (visual.ControlCommand, bool)
	Next(ctx context.Context) (visual.ControlCommand, bool)
	// Drain discards queued commands and returns how many were dropped.
	Drain() int
	Len() int
	Cap() int
}

type channelCommandQueue struct {
	ch chan visual.ControlCommand
}

func newChannelCommandQueue(buffer int) CommandQueue {
	if buffer <= 0 {
		buffer = 1
	}
	return &channelCommandQueue{ch: make(chan visual.ControlCommand, buffer)}
}

// Enqueue never blocks; a full queue rejects the command.
func (q *channelCommandQueue) Enqueue(cmd visual.ControlCommand) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

func (q *channelCommandQueue) TryDequeue() (visual.ControlCommand, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
}

func (q *channelCommandQueue) Next(ctx context.Context) (visual.ControlCommand, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	case <-ctx.Done():
		return visual.ControlCommand{Type: visual.CommandNone}, false
	}
}

func (q *channelCommandQueue) Drain() int {
	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			return n
		}
		n++
	}
}

func (q *channelCommandQueue) Len() int { return len(q.ch) }

func (q *channelCommandQueue) Cap() int { return cap(q.ch) }
