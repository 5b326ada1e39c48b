// SPDX-License-Identifier: MIT

// Command stentor-harvest is the Harvester (C5): a cron-friendly,
// single-instance pass over a SourceList that downloads and transfers new
// media to the worker's inbox.
//
// Usage:
//
//	stentor-harvest [options]
//
// Options:
//
//	--config=PATH   Path to configuration file
//	--daemon        Loop continuously instead of a single pass, keeping
//	                the remote mount warm between fetch passes
//	--help          Show this help message
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stentor-audio/stentor/internal/config"
	"github.com/stentor-audio/stentor/internal/fetch"
	"github.com/stentor-audio/stentor/internal/harvest"
	"github.com/stentor-audio/stentor/internal/mount"
	"github.com/stentor-audio/stentor/internal/supervisor"
)

const (
	exitSuccess = 0
	exitError   = 1
)

// daemonFetchInterval is how often --daemon re-runs a harvest pass; the
// spec leaves the loop cadence to deployment.
const daemonFetchInterval = 5 * time.Minute

// daemonMountProbeInterval is how often --daemon's keepalive service
// re-probes the remote mount between fetch passes, so a transport that
// died mid-idle is noticed and logged; the probe itself does not remount.
const daemonMountProbeInterval = 30 * time.Second

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	daemonMode = flag.Bool("daemon", false, "Loop continuously, keeping the remote mount warm between passes")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
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
	if err := cfg.RequireHarvestFields(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}

	if err := os.MkdirAll(cfg.ScratchRoot, 0755); err != nil { // #nosec G301 -- client-local scratch root
		fmt.Fprintf(os.Stderr, "ERROR: failed to create scratch root: %v\n", err)
		os.Exit(exitError)
	}

	adapter := &fetch.Adapter{
		DownloaderPath: cfg.DownloaderPath,
		RsyncPath:      cfg.RsyncPath,
		ScratchRoot:    cfg.ScratchRoot,
		Logger:         slogger,
		Stdout:         os.Stdout,
	}

	var prober *mount.Prober
	if cfg.LocalMountPoint != "" {
		prober = mount.New(cfg.LocalMountPoint, cfg.MountCmd, cfg.MountArgs, cfg.UnmountCmd, cfg.UnmountArgs)
	}

	h, err := harvest.New(harvest.Options{
		LockPath:           filepath.Join(cfg.LockDir, "harvester.lock"),
		LockTimeout:        cfg.HarvesterLockTimeout,
		SourceListPath:     cfg.SourceListPath,
		Adapter:            adapter,
		RemoteInbox:        cfg.RemoteAudioInboxDir,
		ArchiveFilePath:    filepath.Join(cfg.RemoteAudioInboxDir, cfg.ArchiveFileName),
		BreakOnExisting:    cfg.BreakOnExisting,
		Mount:              prober,
		RequireRemoteMount: cfg.RequireRemoteMount,
		Logger:             slogger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to construct harvester: %v\n", err)
		os.Exit(exitError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, aborting batch", sig)
		cancel()
	}()

	if *daemonMode {
		runDaemon(ctx, h, cfg, slogger, logger)
		os.Exit(exitSuccess)
	}

	failures, err := h.Run(ctx)
	if err != nil {
		if errors.Is(err, harvest.ErrLockHeld) {
			logger.Println("harvester lock held by a live peer, exiting quietly")
			os.Exit(exitSuccess)
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}

	if failures > 0 {
		logger.Printf("completed with %d soft failure(s)", failures)
	}
	os.Exit(exitSuccess)
}

// runDaemon runs the Harvester as two cooperating long-lived services
// under a supervision tree: a fetch loop that re-runs the SourceList pass
// on a timer, and a mount keepalive that independently re-probes the
// remote mount between passes so a transport that dies mid-idle is
// noticed before the next pass needs it. Unlike the Queue Engine's
// suture-based daemon loop, these two services share no state (the
// keepalive uses its own read-only Prober), so the simpler hand-rolled
// supervisor suffices.
func runDaemon(ctx context.Context, h *harvest.Harvester, cfg *config.Config, slogger *slog.Logger, logger *log.Logger) {
	sup := supervisor.New(supervisor.Config{
		Logger: slogger,
		Name:   "stentor-harvest",
	})

	_ = sup.Add(fetchLoopService{harvester: h, logger: logger})

	if cfg.LocalMountPoint != "" {
		keepaliveProbe := mount.New(cfg.LocalMountPoint, cfg.MountCmd, cfg.MountArgs, cfg.UnmountCmd, cfg.UnmountArgs)
		_ = sup.Add(mountKeepaliveService{probe: keepaliveProbe, logger: logger})
	}

	if err := sup.Run(ctx); err != nil {
		logger.Printf("daemon supervisor exited: %v", err)
	}
}

type fetchLoopService struct {
	harvester *harvest.Harvester
	logger    *log.Logger
}

func (f fetchLoopService) Name() string { return "harvest-fetch-loop" }

func (f fetchLoopService) Run(ctx context.Context) error {
	ticker := time.NewTicker(daemonFetchInterval)
	defer ticker.Stop()

	runPass := func() {
		failures, err := f.harvester.Run(ctx)
		switch {
		case err != nil && errors.Is(err, harvest.ErrLockHeld):
			f.logger.Println("harvester lock held by a live peer, skipping this pass")
		case err != nil:
			f.logger.Printf("pass failed: %v", err)
		case failures > 0:
			f.logger.Printf("completed with %d soft failure(s)", failures)
		}
	}

	runPass()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runPass()
		}
	}
}

type mountKeepaliveService struct {
	probe  *mount.Prober
	logger *log.Logger
}

func (m mountKeepaliveService) Name() string { return "harvest-mount-keepalive" }

func (m mountKeepaliveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(daemonMountProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.probe.IsMountedAndResponsive(ctx) {
				m.logger.Printf("remote mount at %s not responsive between passes", m.probe.Path)
			}
		}
	}
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func printUsage() {
	fmt.Println("stentor-harvest - Harvester (download new media and transfer to the worker's inbox)")
	fmt.Println()
	fmt.Println("Usage: stentor-harvest [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("On HELD lock contention (a peer already running), exits 0 quietly.")
}
