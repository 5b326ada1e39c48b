// SPDX-License-Identifier: MIT

// Package config loads Stentor's flat key=value configuration file (§6 of
// the spec) and applies defaults and validation. The same Config struct
// backs both the client-side Harvester and the worker-side Queue Engine /
// Job Supervisor; each process only reads the fields it needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the conventional location for stentor.conf, per §6's
// client-host filesystem layout (<user_config_root>/stentor.conf).
const DefaultConfigPath = "/etc/stentor/stentor.conf"

// Config is Stentor's complete configuration surface. Field names mirror
// the spec's recognized keys where §6 names one explicitly; the remaining
// fields are operational settings this reimplementation needs that the
// spec leaves to deployment (binary paths, queue directories, model
// list) and are documented on their fields below.
type Config struct {
	// --- Client / Harvester (§6 "Configuration (client host)") ---

	// RemoteUser is STENTOR_REMOTE_USER: the SSH/rsync user on the worker host.
	RemoteUser string `koanf:"STENTOR_REMOTE_USER"`
	// RemoteHost is STENTOR_REMOTE_HOST: the worker host's address.
	RemoteHost string `koanf:"STENTOR_REMOTE_HOST"`
	// RemoteAudioInboxDir is STENTOR_REMOTE_AUDIO_INBOX_DIR: the worker's
	// inbox/ directory, reached through the mounted filesystem.
	RemoteAudioInboxDir string `koanf:"STENTOR_REMOTE_AUDIO_INBOX_DIR"`
	// LocalMountPoint is LOCAL_MOUNT_POINT: where the remote filesystem is
	// mounted on the client host.
	LocalMountPoint string `koanf:"LOCAL_MOUNT_POINT"`
	// LocalTranscriptDir is LOCAL_TRANSCRIPT_DIR (optional): a local
	// directory a retrieval tool copies completed transcripts into.
	LocalTranscriptDir string `koanf:"LOCAL_TRANSCRIPT_DIR"`
	// VolumeName is STENTOR_VOLUME_NAME (optional): a display label for the
	// mounted volume. It is parsed but no component reads it.
	VolumeName string `koanf:"STENTOR_VOLUME_NAME"`
	// SSHKeyPath is STENTOR_SSH_KEY_PATH (optional): an SSH identity file.
	// It is parsed but not passed to the mount or transfer helpers.
	SSHKeyPath string `koanf:"STENTOR_SSH_KEY_PATH"`

	// SourceListPath is the URL-list file the Harvester reads (§3 SourceList).
	SourceListPath string `koanf:"source_list_path"`
	// DownloaderPath is the external media-download tool binary (C4).
	DownloaderPath string `koanf:"downloader_path"`
	// RsyncPath is the rsync binary used to transfer staged files to the
	// remote inbox (C4 step 5).
	RsyncPath string `koanf:"rsync_path"`
	// ArchiveFileName is the download-archive file's basename, which lives
	// inside RemoteAudioInboxDir so client and peers share it (§4.4 step 2).
	ArchiveFileName string `koanf:"archive_file_name"`
	// ScratchRoot is the user-scoped temp root under which each URL gets a
	// private scratch directory (§6 client layout: temp_downloads/<random>/).
	ScratchRoot string `koanf:"scratch_root"`
	// BreakOnExisting mirrors the C4 Request flag of the same name.
	BreakOnExisting bool `koanf:"break_on_existing"`
	// RequireRemoteMount: if true, the Harvester aborts when Ensure fails;
	// if false, it degrades to local-only per §4.5 step 3.
	RequireRemoteMount bool `koanf:"require_remote_mount"`
	// MountCmd/MountArgs/UnmountCmd/UnmountArgs configure the external mount
	// helpers the Remote-Mount Probe (C3) shells out to.
	MountCmd    string   `koanf:"mount_cmd"`
	MountArgs   []string `koanf:"mount_args"`
	UnmountCmd  string   `koanf:"unmount_cmd"`
	UnmountArgs []string `koanf:"unmount_args"`

	// --- Worker / Queue Engine + Job Supervisor ---

	// HarvestingRoot is <harvesting_root>/ from §6's worker-host layout:
	// parent of inbox/, processing/, completed/, failed/, logs/, and
	// processed_files.txt.
	HarvestingRoot string `koanf:"harvesting_root"`
	// ProcessingRunsRoot is <processing_runs_root>/, kept outside the
	// harvesting hierarchy per §4.10 step 2.
	ProcessingRunsRoot string `koanf:"processing_runs_root"`
	// LockDir is the single well-known directory all named locks live
	// under (§4.1 "All lock files live under a single well-known
	// directory per user").
	LockDir string `koanf:"lock_dir"`

	// AudioToolPath is the external audio-analysis/conversion tool (C7's
	// "external audio tool") — normalization, silencedetect, and segment
	// extraction all shell out to it.
	AudioToolPath string `koanf:"audio_tool_path"`
	// STTBinaryPath is the external speech-to-text engine (C8).
	STTBinaryPath string `koanf:"stt_binary_path"`
	// ModelsDir is the directory model artifacts are expected to live
	// under; C8 checks existence there before attempting a model.
	ModelsDir string `koanf:"models_dir"`
	// Models is the default ordered model list (§4.8 "Model list").
	Models []string `koanf:"models"`
	// FallbackModel is parsed from fallback_model (default "base") but no
	// component reads it: the Transcription Engine always appends its own
	// transcribe.FallbackModel constant, "base" (§4.8).
	FallbackModel string `koanf:"fallback_model"`
	// TimeoutMultiplier is the default TIMEOUT_DURATION_MULTIPLIER (§4.8).
	TimeoutMultiplier int `koanf:"timeout_multiplier"`

	// InboxExtensions is the configured set of audio file extensions the
	// Inbox Scanner (C6) recognizes, case-insensitive.
	InboxExtensions []string `koanf:"inbox_extensions"`

	// CleanupTempAudio mirrors the Job Supervisor's --cleanup-temp-audio flag.
	CleanupTempAudio bool `koanf:"cleanup_wav_files"`
	// CleanupRunLogs mirrors the Queue Engine's --cleanup-run-logs flag.
	CleanupRunLogs bool `koanf:"cleanup_run_logs"`
	// CleanupOriginalAudio mirrors the Queue Engine's --cleanup-original-audio flag.
	CleanupOriginalAudio bool `koanf:"cleanup_original_audio"`

	// QueueEngineLockTimeout/HarvesterLockTimeout/DownloaderLockTimeout are
	// short-critical-section locks (§9 Open Question: per-named-lock
	// configurability). JobLockTimeout guards the long-running
	// audio-processing critical section.
	QueueEngineLockTimeout time.Duration `koanf:"queue_engine_lock_timeout"`
	HarvesterLockTimeout   time.Duration `koanf:"harvester_lock_timeout"`
	DownloaderLockTimeout  time.Duration `koanf:"downloader_lock_timeout"`
	JobLockTimeout         time.Duration `koanf:"job_lock_timeout"`

	// ChildGraceTimeout is the Queue Engine's ~60s grace period between
	// TERM and KILL for the Job Supervisor child (§4.11 step 6).
	ChildGraceTimeout time.Duration `koanf:"child_grace_timeout"`
	// MountSettleDelay is parsed from mount_settle_delay (default 2s) but
	// no component reads it: the Harvester unmounts on shutdown without a
	// settle pause.
	MountSettleDelay time.Duration `koanf:"mount_settle_delay"`

	// HealthAddr, if non-empty, is where `cmd/stentor-queue --daemon` serves
	// the queue status endpoint (internal/health).
	HealthAddr string `koanf:"health_addr"`
}

// Validate checks configuration for invalid or missing required values.
// Not every field is required by every process (e.g. the Job Supervisor
// never reads RemoteHost); callers validate the subset they depend on via
// the narrower RequireHarvestFields/RequireWorkerFields helpers below.
func (c *Config) Validate() error {
	if c.TimeoutMultiplier < 0 {
		return fmt.Errorf("timeout_multiplier must not be negative")
	}
	if c.QueueEngineLockTimeout < 0 || c.HarvesterLockTimeout < 0 ||
		c.DownloaderLockTimeout < 0 || c.JobLockTimeout < 0 {
		return fmt.Errorf("lock timeouts must not be negative")
	}
	return nil
}

// RequireHarvestFields validates the subset of configuration the Harvester
// (C5) and Media Fetcher Adapter (C4) depend on.
func (c *Config) RequireHarvestFields() error {
	missing := []string{}
	if c.RemoteAudioInboxDir == "" {
		missing = append(missing, "STENTOR_REMOTE_AUDIO_INBOX_DIR")
	}
	if c.SourceListPath == "" {
		missing = append(missing, "source_list_path")
	}
	if c.DownloaderPath == "" {
		missing = append(missing, "downloader_path")
	}
	if c.RsyncPath == "" {
		missing = append(missing, "rsync_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireWorkerFields validates the subset the Queue Engine (C11) and Job
// Supervisor (C10) depend on.
func (c *Config) RequireWorkerFields() error {
	missing := []string{}
	if c.HarvestingRoot == "" {
		missing = append(missing, "harvesting_root")
	}
	if c.ProcessingRunsRoot == "" {
		missing = append(missing, "processing_runs_root")
	}
	if c.AudioToolPath == "" {
		missing = append(missing, "audio_tool_path")
	}
	if c.STTBinaryPath == "" {
		missing = append(missing, "stt_binary_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultConfig returns a Config with the spec's named constants and
// reasonable operational defaults for everything else.
func DefaultConfig() *Config {
	return &Config{
		ArchiveFileName:    "download_archive.txt",
		ScratchRoot:        filepath.Join(os.TempDir(), "stentor"),
		RequireRemoteMount: true,

		LockDir:            "/var/lib/stentor/locks",
		ProcessingRunsRoot: "/var/lib/stentor/runs",

		FallbackModel:     "base",
		TimeoutMultiplier: 5,

		InboxExtensions: []string{".mp3", ".m4a", ".wav", ".flac", ".ogg", ".opus"},

		QueueEngineLockTimeout: 300 * time.Second,
		HarvesterLockTimeout:   300 * time.Second,
		DownloaderLockTimeout:  300 * time.Second,
		JobLockTimeout:         7200 * time.Second,

		ChildGraceTimeout: 60 * time.Second,
		MountSettleDelay:  2 * time.Second,
	}
}

// LoadConfig reads and parses a key=value configuration file at path,
// applying defaults for anything left unset, and validating the result.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is operator-configured, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	fields, err := parseKeyValue(data)
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := DefaultConfig()
	applyFields(cfg, fields)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
