package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"aegisflux/agents/hids/internal/agent"
	"aegisflux/agents/hids/internal/capture"
	"aegisflux/agents/hids/internal/config"
	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/source"
)

func main() {
	configCheck := flag.Bool("config-check", false, "load and validate configuration, then exit")
	once := flag.Bool("once", false, "poll processes and connections once, report alerts, then exit")
	flag.Parse()

	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *configCheck {
		fmt.Println("configuration OK")
		return
	}

	// Setup structured logger
	logger := logging.NewLogger(cfg)

	if cfg.RequireRoot {
		if err := agent.CheckCurrentPrivileges(); err != nil {
			logger.LogSystemEvent("privilege_check_failed", "error", err)
			fmt.Fprintln(os.Stderr, "This program requires root privileges for network monitoring.")
			fmt.Fprintln(os.Stderr, agent.RootRemediation)
			os.Exit(1)
		}
	}

	logger.LogSystemEvent("config_loaded",
		"log_dir", cfg.LogDir,
		"interface", cfg.Interface,
		"watch_paths", strings.Join(cfg.WatchPaths, ","),
		"http_address", cfg.HTTPAddress,
		"nats_url", cfg.NATSURL,
		"policy_file", cfg.PolicyFile)

	deps := buildDeps(cfg, logger)

	agentInstance, err := agent.New(logger, cfg, deps)
	if err != nil {
		logger.Error("Failed to create agent", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if err := agentInstance.RunOnce(ctx); err != nil {
			logger.Error("Single poll failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.LogSystemEvent("shutdown_signal", "signal", sig.String())
		cancel()
	}()

	printBanner(cfg)

	if err := agentInstance.Run(ctx); err != nil {
		logger.Error("Agent run failed", "error", err)
		os.Exit(1)
	}
}

// buildDeps creates the live sources for every enabled monitor
func buildDeps(cfg *config.Config, logger *logging.Logger) agent.Deps {
	var deps agent.Deps
	if cfg.EnablePackets {
		deps.Packets = capture.NewLiveSource(cfg.Interface, cfg.BPFFilter, logger)
	}
	if cfg.EnableFiles {
		deps.Files = source.NewFileWatcher(cfg.WatchPaths, logger)
	}
	if cfg.EnableProcesses {
		deps.Processes = source.NewProcessTable(logger)
	}
	if cfg.EnableConnections {
		deps.Connections = source.NewConnectionTable()
	}
	return deps
}

func printBanner(cfg *config.Config) {
	rule := strings.Repeat("=", 70)
	fmt.Println(rule)
	fmt.Println("HOST INTRUSION DETECTION SYSTEM")
	fmt.Println(rule)
	fmt.Println("Active monitors:")
	monitor := func(enabled bool, desc string) {
		if enabled {
			fmt.Printf("  - %s\n", desc)
		}
	}
	monitor(cfg.EnablePackets, fmt.Sprintf("Network traffic on %s (port scan detection)", cfg.Interface))
	monitor(cfg.EnableConnections, "Connection table (inbound connection detection)")
	monitor(cfg.EnableFiles, fmt.Sprintf("File access in %s", strings.Join(cfg.WatchPaths, ", ")))
	monitor(cfg.EnableProcesses, "Processes (suspicious names, CPU and memory usage)")
	fmt.Printf("Evidence logs: %s\n", cfg.LogDir)
	if cfg.HTTPAddress != "" {
		fmt.Printf("Status API: http://%s/status\n", cfg.HTTPAddress)
	}
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println(rule)
}
