// credit-sentinel analyzes a Snowflake account's recent query history
// for credit-wasting SQL patterns and resource inefficiencies, and
// serves the findings to a dashboard and notification channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snowflake-tools/credit-sentinel/internal/config"
	"github.com/snowflake-tools/credit-sentinel/internal/engine"
	"github.com/snowflake-tools/credit-sentinel/internal/notifier"
	"github.com/snowflake-tools/credit-sentinel/internal/reader"
	"github.com/snowflake-tools/credit-sentinel/internal/scheduler"
	"github.com/snowflake-tools/credit-sentinel/internal/server"
)

var (
	// Version information (set at build time via -ldflags)
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	runOnce := flag.Bool("once", false, "Run analysis once and exit (skip scheduler)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("credit-sentinel %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("credit-sentinel %s starting...", version)

	// Initialize Snowflake reader
	dbReader, err := reader.New(&cfg.Snowflake, &cfg.Analysis)
	if err != nil {
		log.Fatalf("Failed to initialize Snowflake reader: %v", err)
	}
	defer dbReader.Close()

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := dbReader.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to Snowflake: %v", err)
	}
	cancel()
	log.Println("Snowflake connection established")

	// Initialize analysis engine
	eng := engine.New(cfg, dbReader)

	// Initialize notifier
	var notify notifier.Notifier
	switch cfg.Notifier.Type {
	case "webhook":
		notify, err = notifier.NewWebhookNotifier(&cfg.Notifier)
		if err != nil {
			log.Fatalf("Failed to initialize webhook notifier: %v", err)
		}
	case "console":
		notify = notifier.NewConsoleNotifier()
	default:
		log.Fatalf("Unknown notifier type: %s", cfg.Notifier.Type)
	}
	log.Printf("Notifier initialized: %s", notify.Name())

	// Run-once mode
	if *runOnce {
		log.Println("Running single analysis (--once mode)")

		// Use same timeout as scheduler would
		analysisCtx, analysisCancel := context.WithTimeout(context.Background(), scheduler.DefaultAnalysisTimeout)
		defer analysisCancel()

		report, err := eng.Run(analysisCtx)
		if err != nil {
			if analysisCtx.Err() == context.DeadlineExceeded {
				log.Fatalf("Analysis timed out after %v", scheduler.DefaultAnalysisTimeout)
			}
			log.Fatalf("Analysis failed: %v", err)
		}

		if err := notify.Send(analysisCtx, report); err != nil {
			if analysisCtx.Err() == context.DeadlineExceeded {
				log.Fatalf("Notification timed out")
			}
			log.Fatalf("Notification failed: %v", err)
		}

		log.Println("Analysis complete, exiting")
		return
	}

	// Initialize HTTP server (health, report API, docs)
	httpServer := server.New(&cfg.Server, dbReader, eng)
	if err := httpServer.Start(); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}

	// Initialize scheduler (cron interpreted in configured timezone; Location set by config.Validate)
	sched := scheduler.New(eng, notify, cfg.Schedule.Location)
	if err := sched.Schedule(cfg.Schedule.Cron); err != nil {
		log.Fatalf("Failed to schedule job: %v", err)
	}
	sched.Start()
	log.Printf("Scheduler started with cron: %s (timezone: %s)", cfg.Schedule.Cron, cfg.Schedule.Timezone)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop scheduler
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
	case <-shutdownCtx.Done():
	}

	// Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}

	log.Println("Shutdown complete")
}
