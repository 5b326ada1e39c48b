// SPDX-License-Identifier: MIT

// Command stentor-doctor runs diagnostic checks against Stentor's
// external collaborators — the downloader, audio tool, and STT
// binaries, the remote mount, and the filesystem resources the
// pipeline depends on but does not implement itself.
//
// Usage:
//
//	stentor-doctor [options]
//
// Options:
//
//	--config=PATH   Path to configuration file
//	--role=ROLE     client, worker, or all (default: all)
//	--json          Emit the report as JSON instead of text
//	-h, --help      Show this help message
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/stentor-audio/stentor/internal/config"
	"github.com/stentor-audio/stentor/internal/diagnostics"
)

const (
	exitHealthy   = 0
	exitUnhealthy = 1
	exitError     = 2
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	roleFlag   = flag.String("role", "all", "Which checks to run: client, worker, or all")
	jsonOutput = flag.Bool("json", false, "Emit the report as JSON")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(exitHealthy)
	}

	role, err := parseRole(*roleFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitError)
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration: %v\n", err)
		os.Exit(exitError)
	}

	runner := diagnostics.NewRunner(diagnostics.Options{
		Role:            role,
		DownloaderPath:  cfg.DownloaderPath,
		AudioToolPath:   cfg.AudioToolPath,
		STTBinaryPath:   cfg.STTBinaryPath,
		LocalMountPoint: cfg.LocalMountPoint,
		MountCmd:        cfg.MountCmd,
		MountArgs:       cfg.MountArgs,
		UnmountCmd:      cfg.UnmountCmd,
		UnmountArgs:     cfg.UnmountArgs,
		LockDir:         cfg.LockDir,
		HarvestingRoot:  cfg.HarvestingRoot,
	})

	report, err := runner.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: diagnostics run failed: %v\n", err)
		os.Exit(exitError)
	}

	if *jsonOutput {
		data, err := report.ToJSON()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: failed to encode report: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(data))
	} else {
		diagnostics.PrintReport(os.Stdout, report)
	}

	if !report.Healthy {
		os.Exit(exitUnhealthy)
	}
	os.Exit(exitHealthy)
}

func parseRole(raw string) (diagnostics.Role, error) {
	switch diagnostics.Role(raw) {
	case diagnostics.RoleClient, diagnostics.RoleWorker, diagnostics.RoleAll:
		return diagnostics.Role(raw), nil
	default:
		return "", fmt.Errorf("invalid --role %q (want client, worker, or all)", raw)
	}
}

func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func printUsage() {
	fmt.Println("stentor-doctor - diagnose Stentor's external collaborators")
	fmt.Println()
	fmt.Println("Usage: stentor-doctor [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
