// SPDX-License-Identifier: MIT

// Command stentor-job is the Job Supervisor (C10): run as a single child
// process by the Queue Engine, it segments, transcribes, and assembles
// exactly one media file, then exits with a distinguished code the Queue
// Engine classifies.
//
// Usage:
//
//	stentor-job [options] <path-to-media-file>
//
// Options:
//
//	--config=PATH             Path to configuration file
//	--cleanup-temp-audio      Delete the workable WAV and segments on success
//	--models "m1,m2,..."      Ordered model list (overrides config)
//	--timeout-multiplier N    Per-segment timeout multiplier (overrides config)
//	--help                    Show this help message
//
// On success the absolute path to the clean transcript is emitted as the
// last line of standard output; exit code 0. On lock contention, exit
// code 10 (the Queue Engine's signal to requeue without penalty). A bad
// argument list or an unusable configuration exits 2. Any other failure
// exits 1 with a prefixed error on standard error.
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
	"strings"
	"syscall"

	"github.com/stentor-audio/stentor/internal/config"
	"github.com/stentor-audio/stentor/internal/job"
	"github.com/stentor-audio/stentor/internal/transcribe"
)

var (
	configPath        = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	cleanupTempAudio  = flag.Bool("cleanup-temp-audio", false, "Delete the workable WAV and segments directory on success")
	modelsFlag        = flag.String("models", "", "Ordered, comma-separated model list (overrides config)")
	timeoutMultiplier = flag.Int("timeout-multiplier", 0, "Per-segment timeout multiplier (overrides config, must be positive)")
	showHelp          = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(job.ExitSuccess)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "ERROR: expected exactly one media file argument")
		printUsage()
		os.Exit(job.ExitValidationFailed)
	}
	sourcePath := flag.Arg(0)

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration: %v\n", err)
		os.Exit(job.ExitValidationFailed)
	}
	if err := cfg.RequireWorkerFields(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(job.ExitValidationFailed)
	}

	models := cfg.Models
	if *modelsFlag != "" {
		models = splitModels(*modelsFlag)
	}
	multiplier := cfg.TimeoutMultiplier
	if *timeoutMultiplier > 0 {
		multiplier = *timeoutMultiplier
	}

	sup, err := job.New(job.Options{
		LockPath:          filepath.Join(cfg.LockDir, "audio-processing.lock"),
		LockTimeout:       cfg.JobLockTimeout,
		RunsRoot:          cfg.ProcessingRunsRoot,
		AudioToolPath:     cfg.AudioToolPath,
		STTBinaryPath:     cfg.STTBinaryPath,
		ModelResolver:     transcribe.FileModelResolver{Root: cfg.ModelsDir},
		Models:            models,
		TimeoutMultiplier: multiplier,
		CleanupTempAudio:  *cleanupTempAudio || cfg.CleanupTempAudio,
		Stderr:            func(msg string) { logger.Println(msg) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to construct job supervisor: %v\n", err)
		os.Exit(job.ExitFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, releasing lock and aborting", sig)
		if releaseErr := sup.Release(); releaseErr != nil {
			logger.Printf("release on signal: %v", releaseErr)
		}
		cancel()
	}()

	cleanTranscriptPath, err := sup.Run(ctx, sourcePath)
	if err != nil {
		if errors.Is(err, job.ErrLockHeld) {
			fmt.Fprintf(os.Stderr, "ERROR: audio-processing lock held by a live peer, retry later\n")
			os.Exit(job.ExitRetryableLock)
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(job.ExitFailure)
	}

	fmt.Println(cleanTranscriptPath)
	os.Exit(job.ExitSuccess)
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
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
	fmt.Println("stentor-job - Job Supervisor (run one media file's segmentation/transcription/assembly)")
	fmt.Println()
	fmt.Println("Usage: stentor-job [options] <path-to-media-file>")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Printf("  %d  success (clean transcript path on last stdout line)\n", job.ExitSuccess)
	fmt.Printf("  %d  processing failure\n", job.ExitFailure)
	fmt.Printf("  %d  validation/configuration failure\n", job.ExitValidationFailed)
	fmt.Printf("  %d  retryable lock contention (requeue, do not mark failed)\n", job.ExitRetryableLock)
}
