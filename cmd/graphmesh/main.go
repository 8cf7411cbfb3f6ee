// Package main implements the graphmesh runner: it loads an app
// configuration, brings up transports and graphs, and serves until a
// signal or a close_app command arrives.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

const (
	Version = "0.1.0"
	appName = "graphmesh"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
