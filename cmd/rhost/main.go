// Command rhost runs the host control protocol server around the
// embedded engine simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhostcore/rhost/internal/buildinfo"
	"github.com/rhostcore/rhost/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(config.NewHandler(os.Stderr, slog.LevelInfo))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch flag.Arg(0) {
	case "serve":
		err = runServe(ctx, logger, *configPath)
	case "repl":
		err = runREPL(ctx, logger)
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-14s %s\n", k+":", v)
		}
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", flag.Arg(0))
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("rhost: exiting with error", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rhost - host control protocol server")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the host, waiting for or connecting to a single client")
	fmt.Println("  repl     Drive the engine simulator directly, with no network transport")
	fmt.Println("  version  Print build information")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
