package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HyphaGroup/plotd/internal/audit"
	"github.com/HyphaGroup/plotd/internal/config"
	"github.com/HyphaGroup/plotd/internal/history"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/mcp"
	"github.com/HyphaGroup/plotd/internal/session"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit(os.Args[2:])
			return
		case "send":
			os.Exit(cmdSend(os.Args[2:]))
		case "move":
			os.Exit(cmdMove(os.Args[2:]))
		case "serve":
			runServer(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("plotd %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	// Default: run server
	runServer(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`plotd %s - drawing-machine streaming service

Usage: plotd [command] [options]

Commands:
  (default), serve   Start the MCP server for the drawing UI
  init               Write a default plotd.jsonc
  send               Stream the cached drawing to the machine and exit
  move               Move the pen to the drawing's start position
  version            Print the version

Options:
  --dir <path>       Directory holding plotd.jsonc
  --addr <ip:port>   Machine address (send, move)

Config Precedence:
  1. --dir flag
  2. PLOTD_HOME env var
  3. ./.plotd
  4. ~/.plotd

Examples:
  plotd init                         Set up ~/.plotd
  plotd init --dir .plotd            Set up in the current directory
  plotd                              Start the server
  plotd send --addr 192.168.4.1      Stream instructions.bin from the cache
  plotd move --x 10 --y 20           Move the pen to page position (10, 20)
`, Version)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory holding plotd.jsonc")
	listenFlag := fs.String("listen", "", "Override server.address")
	_ = fs.Parse(args)

	cfg, _, err := config.LoadAll(*dirFlag)
	if err != nil {
		if *dirFlag == "" {
			fmt.Fprintln(os.Stderr, "plotd not initialized. Run 'plotd init' first.")
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}
	addr := cfg.Server.Address
	if *listenFlag != "" {
		addr = *listenFlag
	}

	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := logger.Init(logDir, cfg.Logging.Options()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()
	if err := audit.Init(logDir); err != nil {
		logger.Fatalf("Failed to open audit log: %v", err)
	}
	defer func() { _ = audit.Close() }()

	logger.Printf("plotd %s", Version)
	logger.Printf("Cache directory: %s", cfg.CacheDir)
	logger.Printf("Logs directory: %s", logDir)
	if machine := cfg.Machine.Addr(); machine != "" {
		logger.Printf("Machine: %s", machine)
	} else {
		logger.Println("No machine.address configured; tools must pass an address")
	}

	store, err := history.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatalf("Failed to open history database: %v", err)
	}
	defer func() { _ = store.Close() }()
	logger.Printf("History database: %s", filepath.Join(cfg.DataDir, history.DBFileName))

	// A run still marked running was cut short by the previous process.
	ctx := context.Background()
	if n, err := store.AbandonRunning(ctx); err != nil {
		logger.Error("Failed to close out interrupted runs: %v", err)
	} else if n > 0 {
		logger.Printf("Marked %d interrupted run(s) as failed", n)
	}

	var pruner *history.Pruner
	if retention := cfg.History.Retention(); retention > 0 {
		pruner, err = history.NewPruner(store, cfg.History.PruneCron, retention)
		if err != nil {
			logger.Fatalf("Failed to schedule history pruning: %v", err)
		}
		pruner.Start()
		logger.Printf("History retention: %d days (prune %q)", cfg.History.RetentionDays, cfg.History.PruneCron)
	}

	opts := cfg.SessionOptions()
	opts.History = store
	manager := session.NewManager(opts)

	server := mcp.NewServer(mcp.ServerConfig{
		Config:  cfg,
		Manager: manager,
		History: store,
		Version: Version,
	})

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(addr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdownChan:
		logger.Printf("Received signal %v, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Println("   Stopping HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}

	logger.Println("   Stopping any running drawing...")
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Error("Session shutdown: %v", err)
	}

	if pruner != nil {
		pruner.Stop()
	}
	logger.Println("Shutdown complete")
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory to initialize (default: ~/.plotd)")
	_ = fs.Parse(args)

	dir := *dirFlag
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Cannot determine home directory: %v", err)
		}
		dir = filepath.Join(home, ".plotd")
	}

	path, err := config.WriteDefault(dir)
	if err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to read back config: %v", err)
	}
	for _, d := range []string{cfg.CacheDir, cfg.DataDir} {
		if !filepath.IsAbs(d) {
			d = filepath.Join(dir, d)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", d, err)
		}
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set machine.address, then run 'plotd' to start the server.")
}

// loadClientConfig loads plotd.jsonc for the one-shot commands. Without
// --dir a missing file is fine; the defaults and flags are enough.
func loadClientConfig(dir string) (*config.Config, error) {
	cfg, _, err := config.LoadAll(dir)
	if err == nil {
		return cfg, nil
	}
	if dir == "" {
		if _, findErr := config.FindConfigPath(""); findErr != nil {
			return config.Default(), nil
		}
	}
	return nil, err
}

// signalContext is cancelled on the second interrupt; the first calls onFirst
func signalContext(onFirst func()) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		first := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if first {
					first = false
					onFirst()
					continue
				}
				cancel()
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}
