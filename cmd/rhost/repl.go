package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rhostcore/rhost/internal/engine"
	"github.com/rhostcore/rhost/internal/enginesim"
)

// runREPL drives the engine simulator directly against stdin/stdout,
// bypassing the network transport entirely — a smoke test for the
// parse/eval/cancel machinery with no client attached.
func runREPL(ctx context.Context, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)

	cb := engine.Callbacks{
		ReadPrompt: func(ctx context.Context, _ []int, _ int, _ bool) (string, bool, error) {
			fmt.Print("> ")
			if !scanner.Scan() {
				return "", true, nil
			}
			return scanner.Text(), false, nil
		},
		WriteOutput: func(text string, isError bool) {
			if isError {
				fmt.Fprint(os.Stderr, text)
			} else {
				fmt.Print(text)
			}
		},
		ShowMessage: func(text string) { fmt.Println(text) },
		YesNoCancel: func(ctx context.Context, text string) (string, error) {
			fmt.Printf("%s [Y/N/C] ", text)
			if !scanner.Scan() {
				return "C", nil
			}
			return scanner.Text(), nil
		},
		Busy: func(bool) {},
		Tick: func() {},
	}

	sim := enginesim.New(cb)
	logger.Info("repl: engine simulator ready", "version", sim.Version())

	for {
		line, eof, err := cb.ReadPrompt(ctx, nil, 4096, true)
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
		if line == "" {
			continue
		}

		status, parsed, parseErr := sim.Parse(line)
		switch status {
		case engine.ParseOK:
		case engine.ParseIncomplete, engine.ParseNull:
			continue
		default:
			if parseErr != nil {
				fmt.Fprintln(os.Stderr, parseErr.Error())
			}
			continue
		}

		value, err := sim.Eval(ctx, parsed, engine.EnvGlobal)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			continue
		}
		if value != "" {
			fmt.Println(value)
		}
	}
}
