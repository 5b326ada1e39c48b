// SPDX-License-Identifier: MIT

// Command stentor-queue is the Queue Engine (C11): it claims files from
// the worker's inbox/ one at a time, oldest-first, and supervises the
// Job Supervisor (C10) child process for each, classifying its exit code
// into completed/, requeued-to-inbox, or failed/.
//
// Usage:
//
//	stentor-queue [options]
//
// Invoked with no arguments at all, it prints usage and exits 0 — the
// cron-friendly no-op the spec asks for so an empty crontab line never
// looks like an error.
//
// Options:
//
//	--config=PATH               Path to configuration file
//	--cleanup-wav-files         Pass --cleanup-temp-audio to the child
//	--cleanup-run-logs          Remove the per-job run directory on success
//	--cleanup-original-audio    Delete the original file from completed/ after copy
//	--aggressive-cleanup        Enable all three cleanup flags above
//	--models "m1,m2,..."        Ordered model list (overrides config)
//	--timeout-multiplier N      Per-segment timeout multiplier (overrides config)
//	--daemon                    Loop continuously instead of a single pass,
//	                            serving a queue-status health endpoint
//	-h, --help                  Show this help message
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/stentor-audio/stentor/internal/config"
	"github.com/stentor-audio/stentor/internal/health"
	"github.com/stentor-audio/stentor/internal/queue"
)

const (
	exitSuccess = 0
	exitError   = 1
)

// daemonPollInterval is how often --daemon re-scans the inbox between
// passes; the spec leaves the loop cadence to deployment.
const daemonPollInterval = 30 * time.Second

var (
	configPath           = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	cleanupWAVFiles      = flag.Bool("cleanup-wav-files", false, "Pass --cleanup-temp-audio to the child")
	cleanupRunLogs       = flag.Bool("cleanup-run-logs", false, "Remove the per-job run directory on success")
	cleanupOriginalAudio = flag.Bool("cleanup-original-audio", false, "Delete the original file from completed/ after copy")
	aggressiveCleanup    = flag.Bool("aggressive-cleanup", false, "Enable all three cleanup flags above")
	modelsFlag           = flag.String("models", "", "Ordered, comma-separated model list (overrides config)")
	timeoutMultiplier    = flag.Int("timeout-multiplier", 0, "Per-segment timeout multiplier (overrides config)")
	daemonMode           = flag.Bool("daemon", false, "Loop continuously, serving a queue-status health endpoint")
	showHelp             = flag.Bool("help", false, "Show help message")
)

func main() {
	if len(os.Args) == 1 {
		printUsage()
		os.Exit(exitSuccess)
	}

	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(exitSuccess)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	slogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration: %v\n", err)
		os.Exit(exitError)
	}
	if err := cfg.RequireWorkerFields(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}

	models := cfg.Models
	if *modelsFlag != "" {
		models = splitModels(*modelsFlag)
	}
	multiplier := cfg.TimeoutMultiplier
	if *timeoutMultiplier > 0 {
		multiplier = *timeoutMultiplier
	}

	cleanupRunLogsEffective := *cleanupRunLogs || *aggressiveCleanup || cfg.CleanupRunLogs
	cleanupOriginalAudioEffective := *cleanupOriginalAudio || *aggressiveCleanup || cfg.CleanupOriginalAudio
	cleanupTempAudioEffective := *cleanupWAVFiles || *aggressiveCleanup || cfg.CleanupTempAudio

	jobBinaryPath, err := resolveJobBinary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}

	engine, err := queue.New(queue.Options{
		HarvestingRoot:       cfg.HarvestingRoot,
		LockPath:             filepath.Join(cfg.LockDir, "queue-engine.lock"),
		LockTimeout:          cfg.QueueEngineLockTimeout,
		InboxExtensions:      cfg.InboxExtensions,
		JobBinaryPath:        jobBinaryPath,
		JobLockPath:          filepath.Join(cfg.LockDir, "audio-processing.lock"),
		CleanupTempAudio:     cleanupTempAudioEffective,
		Models:               models,
		TimeoutMultiplier:    multiplier,
		CleanupRunLogs:       cleanupRunLogsEffective,
		CleanupOriginalAudio: cleanupOriginalAudioEffective,
		ChildGraceTimeout:    cfg.ChildGraceTimeout,
		Logger:               slogger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to construct queue engine: %v\n", err)
		os.Exit(exitError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if *daemonMode {
		runDaemon(ctx, engine, cfg.HealthAddr, logger)
		os.Exit(exitSuccess)
	}

	if err := runOnce(ctx, engine, logger); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// runOnce performs a single inbox pass (§4.11 steps 2-7).
func runOnce(ctx context.Context, engine *queue.Engine, logger *log.Logger) error {
	results, err := engine.Run(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrLockHeld) {
			logger.Println("queue-engine lock held by a live peer, exiting quietly")
			return nil
		}
		return err
	}

	for _, r := range results {
		if r.Err != nil {
			logger.Printf("%s: %s (%v)", r.Basename, r.Outcome, r.Err)
		} else {
			logger.Printf("%s: %s", r.Basename, r.Outcome)
		}
	}
	return nil
}

// runDaemon loops runOnce on a timer and serves the health endpoint,
// running both as suture services under one supervisor so either one
// is restarted with backoff if it panics or returns unexpectedly
// (§4.11 allows "cron-driven, or loop-driven; identical logic either
// way" — suture supplies the loop-driven half's crash recovery).
func runDaemon(ctx context.Context, engine *queue.Engine, healthAddr string, logger *log.Logger) {
	sup := suture.NewSimple("stentor-queue")

	sup.Add(pollLoopService{engine: engine, logger: logger})

	if healthAddr != "" {
		sup.Add(healthServerService{addr: healthAddr, provider: engine})
	}

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("daemon supervisor exited: %v", err)
	}
}

type pollLoopService struct {
	engine *queue.Engine
	logger *log.Logger
}

func (p pollLoopService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(daemonPollInterval)
	defer ticker.Stop()

	if err := runOnce(ctx, p.engine, p.logger); err != nil {
		p.logger.Printf("pass failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(ctx, p.engine, p.logger); err != nil {
				p.logger.Printf("pass failed: %v", err)
			}
		}
	}
}

type healthServerService struct {
	addr     string
	provider health.StatusProvider
}

func (h healthServerService) Serve(ctx context.Context) error {
	return health.ListenAndServe(ctx, h.addr, health.NewHandler(h.provider))
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// resolveJobBinary locates the stentor-job binary alongside this one, per
// the convention that the Queue Engine and Job Supervisor ship together
// (§6's worker-host deployment layout).
func resolveJobBinary() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve own executable path: %w", err)
	}
	candidate := filepath.Join(filepath.Dir(self), "stentor-job")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	if path, err := exec.LookPath("stentor-job"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("stentor-job binary not found next to %s or on PATH", self)
}

func splitModels(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("stentor-queue - Queue Engine (claim inbox files and supervise the Job Supervisor)")
	fmt.Println()
	fmt.Println("Usage: stentor-queue [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Invoked with no arguments, this help is printed and the process exits 0.")
	fmt.Println("On queue-engine lock contention (a peer already running), exits 0 quietly.")
}
