package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Skryldev/glycin/telemetry"
	"github.com/Skryldev/glycin/worker"
)

// main is the entry point a loader's conf.d Exec key points at. The
// sandbox launcher execs this binary with stdin wired to the socket pair
// it created; worker.Serve takes it from there.
func main() {
	govips.Startup(&govips.Config{ConcurrencyLevel: runtime.NumCPU()})
	defer govips.Shutdown()

	logger := telemetry.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	p := message.NewPrinter(language.English)
	logger.Info(p.Sprintf("glycin-loader-demo starting, pid %d", os.Getpid()))

	if err := worker.ServeWithLogger(newDemoDecoder(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "glycin-loader-demo:", err)
		os.Exit(1)
	}
}
