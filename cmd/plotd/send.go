package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HyphaGroup/plotd/internal/config"
	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/session"
	"github.com/HyphaGroup/plotd/internal/validation"
)

func cmdSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory holding plotd.jsonc")
	addrFlag := fs.String("addr", "", "Machine address IP[:PORT] (default: machine.address)")
	cacheFlag := fs.String("cache", "", "Directory holding instructions.bin (default: cache_dir)")
	_ = fs.Parse(args)

	cfg, err := loadClientConfig(*dirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	address, err := machineAddress(cfg, *addrFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --addr: %v\n", err)
		return 2
	}
	if address == "" {
		fmt.Fprintln(os.Stderr, "No machine address: pass --addr or set machine.address")
		return 2
	}

	cacheDir := cfg.CacheDir
	if *cacheFlag != "" {
		cacheDir = *cacheFlag
	}
	set, err := instruction.LoadCache(cacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load drawing: %v\n", err)
		return 1
	}

	manager := session.NewManager(cfg.SessionOptions())
	ctx, cleanup := signalContext(func() {
		fmt.Fprintln(os.Stderr, "\nStopping... (interrupt again to abort)")
		_ = manager.Stop(context.Background())
	})
	defer cleanup()

	return printEvents(os.Stdout, manager.Stream(ctx, address, set))
}

// machineAddress prefers the --addr flag over machine.address
func machineAddress(cfg *config.Config, flagValue string) (string, error) {
	if flagValue == "" {
		return cfg.Machine.Addr(), nil
	}
	if err := validation.ValidateMachineAddress(flagValue); err != nil {
		return "", err
	}
	return firmware.NormalizeAddress(flagValue), nil
}

// printEvents renders a stream for a terminal and returns the exit code
func printEvents(w io.Writer, events <-chan session.Event) int {
	code := 1
	for ev := range events {
		switch ev.Kind {
		case session.EventNetwork:
			fmt.Fprintf(w, "Connecting to %s\n", ev.Address)
		case session.EventDraw:
			fmt.Fprintf(w, "Drawing: %d bytes\n", ev.Total)
		case session.EventConnection:
			fmt.Fprintln(w, ev.Message)
		case session.EventMachine:
			if ev.Machine != nil {
				fmt.Fprintf(w, "Machine: buffer %d bytes, max speed %d, min pulse %d\n",
					ev.Machine.InstructionBufferSize, ev.Machine.MaxMotorSpeed, ev.Machine.MinPulseWidth)
			}
		case session.EventProgress:
			fmt.Fprintf(w, "\r%5.1f%%  %d/%d", 100*ev.Fraction(), ev.Sent, ev.Total)
		case session.EventPaused, session.EventResumed:
			fmt.Fprintf(w, "\n%s at %d\n", ev.Kind, ev.Sent)
		case session.EventComplete:
			fmt.Fprintf(w, "\nComplete: %d bytes\n", ev.Sent)
			code = 0
		case session.EventStopped:
			fmt.Fprintf(w, "\nStopped after %d/%d bytes\n", ev.Sent, ev.Total)
			code = 0
		case session.EventError:
			fmt.Fprintf(w, "\nError (%s): %s\n", ev.ErrKind, ev.Reason)
			code = exitCode(ev.Err)
			if code == 0 {
				code = 1
			}
		}
	}
	return code
}

func cmdMove(args []string) int {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory holding plotd.jsonc")
	addrFlag := fs.String("addr", "", "Machine address IP[:PORT] (default: machine.address)")
	xFlag := fs.Float64("x", 0, "Page x in mm (default: start.bin)")
	yFlag := fs.Float64("y", 0, "Page y in mm (default: start.bin)")
	_ = fs.Parse(args)

	cfg, err := loadClientConfig(*dirFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	address, err := machineAddress(cfg, *addrFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --addr: %v\n", err)
		return 2
	}
	if address == "" {
		fmt.Fprintln(os.Stderr, "No machine address: pass --addr or set machine.address")
		return 2
	}

	x, y, err := instruction.LoadStart(cfg.CacheDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read start position: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "x":
			x = *xFlag
		case "y":
			y = *yFlag
		}
	})

	manager := session.NewManager(cfg.SessionOptions())
	ctx, cleanup := signalContext(func() {})
	defer cleanup()

	fmt.Printf("Moving to (%.1f, %.1f) on %s\n", x, y, address)
	if err := manager.MoveToStart(ctx, address, cfg.Physical, x, y); err != nil {
		fmt.Fprintf(os.Stderr, "Move failed: %v\n", err)
		return exitCode(err)
	}
	fmt.Println("Done")
	return 0
}
