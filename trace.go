package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Readm/wb_sim/fabric"
	"github.com/Readm/wb_sim/plugins/tracer"
)

const (
	defaultTraceWidth = 100
	minTraceWidth     = 40
)

// terminalWidth returns the width of f when it is a terminal.
func terminalWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultTraceWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w < minTraceWidth {
		return defaultTraceWidth
	}
	return w
}

// traceRows returns how many events fit on the terminal, or all of them when
// stdout is not a terminal.
func traceRows(f *os.File, total int) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return total
	}
	_, h, err := term.GetSize(fd)
	if err != nil || h <= 4 {
		return total
	}
	if h-3 < total {
		return h - 3
	}
	return total
}

// PrintTrace writes one line per cycle, truncated to width columns.
func PrintTrace(w io.Writer, events []tracer.Event, numInitiators int, names []string, width int) {
	if width < minTraceWidth {
		width = minTraceWidth
	}
	header := fmt.Sprintf("%8s  %-*s  %-5s  %-10s  %-8s  %-4s  %-10s  %s",
		"cycle", reqCol(numInitiators), "req", "grant", "address", "target", "resp", "rdata", "notes")
	fmt.Fprintln(w, clip(header, width))
	fmt.Fprintln(w, strings.Repeat("-", min(width, len(header))))
	for _, ev := range events {
		grant := "-"
		if ev.Grant >= 0 {
			grant = fmt.Sprintf("m%d", ev.Grant)
		}
		addr, target := "", ""
		if ev.Decoded {
			addr = fmt.Sprintf("0x%08x", ev.Address)
			target = "miss"
			if ev.Target >= 0 && ev.Target < len(names) {
				target = names[ev.Target]
			}
		}
		resp := ""
		switch {
		case ev.Ack && ev.Err:
			resp = "a+e"
		case ev.Ack:
			resp = "ack"
		case ev.Err:
			resp = "err"
		}
		rdata := ""
		if ev.Ack {
			rdata = fmt.Sprintf("0x%08x", ev.ReadData)
		}
		line := fmt.Sprintf("%8d  %-*s  %-5s  %-10s  %-8s  %-4s  %-10s  %s",
			ev.Cycle, reqCol(numInitiators), fabric.BitVector(ev.Requests).Format(numInitiators),
			grant, addr, target, resp, rdata, ev.Violation)
		fmt.Fprintln(w, clip(strings.TrimRight(line, " "), width))
	}
}

func reqCol(n int) int {
	if n < 3 {
		return 3
	}
	return n
}

func clip(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "~"
}
