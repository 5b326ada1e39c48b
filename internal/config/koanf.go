// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// KVParser implements koanf's Parser interface for stentor.conf's grammar
// (§6 "Configuration (key=value)"): one KEY=value pair per line, blank
// lines and lines starting with # ignored, no quoting or nesting. This
// replaces the teacher's github.com/knadh/koanf/parsers/yaml, which parsed
// nested device/stream/mediamtx/monitor sections that have no equivalent
// in Stentor's flat config grammar.
type KVParser struct{}

// Unmarshal parses key=value bytes into a flat map, keyed by the literal
// field name used in the file (already uppercase for the §6-named keys).
func (KVParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	fields, err := parseKeyValue(b)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}

// Marshal serializes a flat map back to key=value lines. Stentor never
// writes stentor.conf programmatically (it is operator-edited), but koanf's
// Parser interface requires the method.
func (KVParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var b strings.Builder
	for k, v := range m {
		fmt.Fprintf(&b, "%s=%v\n", k, v)
	}
	return []byte(b.String()), nil
}

// parseKeyValue implements §3/§6's source-list-adjacent grammar for
// stentor.conf: split each non-blank, non-comment line on the first '=',
// trimming whitespace from both sides.
func parseKeyValue(data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("malformed config line (no '='): %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("malformed config line (empty key): %q", line)
		}
		fields[key] = val
	}
	return fields, nil
}

// applyFields sets cfg's fields from a flat key=value map, overwriting
// DefaultConfig's values only for keys that are present. Lists
// (models, inbox_extensions, mount_args, unmount_args) are comma-separated
// in the file.
func applyFields(cfg *Config, fields map[string]string) {
	for key, val := range fields {
		setField(cfg, key, val)
	}
}

func setField(cfg *Config, key, val string) {
	switch key {
	case "STENTOR_REMOTE_USER":
		cfg.RemoteUser = val
	case "STENTOR_REMOTE_HOST":
		cfg.RemoteHost = val
	case "STENTOR_REMOTE_AUDIO_INBOX_DIR":
		cfg.RemoteAudioInboxDir = val
	case "LOCAL_MOUNT_POINT":
		cfg.LocalMountPoint = val
	case "LOCAL_TRANSCRIPT_DIR":
		cfg.LocalTranscriptDir = val
	case "STENTOR_VOLUME_NAME":
		cfg.VolumeName = val
	case "STENTOR_SSH_KEY_PATH":
		cfg.SSHKeyPath = val
	case "source_list_path":
		cfg.SourceListPath = val
	case "downloader_path":
		cfg.DownloaderPath = val
	case "rsync_path":
		cfg.RsyncPath = val
	case "archive_file_name":
		cfg.ArchiveFileName = val
	case "scratch_root":
		cfg.ScratchRoot = val
	case "break_on_existing":
		cfg.BreakOnExisting = parseBool(val)
	case "require_remote_mount":
		cfg.RequireRemoteMount = parseBool(val)
	case "mount_cmd":
		cfg.MountCmd = val
	case "mount_args":
		cfg.MountArgs = splitList(val)
	case "unmount_cmd":
		cfg.UnmountCmd = val
	case "unmount_args":
		cfg.UnmountArgs = splitList(val)
	case "harvesting_root":
		cfg.HarvestingRoot = val
	case "processing_runs_root":
		cfg.ProcessingRunsRoot = val
	case "lock_dir":
		cfg.LockDir = val
	case "audio_tool_path":
		cfg.AudioToolPath = val
	case "stt_binary_path":
		cfg.STTBinaryPath = val
	case "models_dir":
		cfg.ModelsDir = val
	case "models":
		cfg.Models = splitList(val)
	case "fallback_model":
		cfg.FallbackModel = val
	case "timeout_multiplier":
		if n, err := strconv.Atoi(val); err == nil {
			cfg.TimeoutMultiplier = n
		}
	case "inbox_extensions":
		cfg.InboxExtensions = splitList(val)
	case "cleanup_wav_files":
		cfg.CleanupTempAudio = parseBool(val)
	case "cleanup_run_logs":
		cfg.CleanupRunLogs = parseBool(val)
	case "cleanup_original_audio":
		cfg.CleanupOriginalAudio = parseBool(val)
	case "queue_engine_lock_timeout":
		cfg.QueueEngineLockTimeout = parseDuration(val, cfg.QueueEngineLockTimeout)
	case "harvester_lock_timeout":
		cfg.HarvesterLockTimeout = parseDuration(val, cfg.HarvesterLockTimeout)
	case "downloader_lock_timeout":
		cfg.DownloaderLockTimeout = parseDuration(val, cfg.DownloaderLockTimeout)
	case "job_lock_timeout":
		cfg.JobLockTimeout = parseDuration(val, cfg.JobLockTimeout)
	case "child_grace_timeout":
		cfg.ChildGraceTimeout = parseDuration(val, cfg.ChildGraceTimeout)
	case "mount_settle_delay":
		cfg.MountSettleDelay = parseDuration(val, cfg.MountSettleDelay)
	case "health_addr":
		cfg.HealthAddr = val
	}
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(val)
	return err == nil && b
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// KoanfConfig wraps koanf for config precedence (file, then environment
// overrides) and file-watch hot-reload, exactly as the teacher's
// koanf.go does — only the parser and env-key mapping are swapped for
// Stentor's flat grammar.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithConfigFile sets the stentor.conf path.
func WithConfigFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default "STENTOR").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig loads configuration with precedence env > file > defaults.
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "STENTOR",
	}
	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := kc.reload(); err != nil {
		return nil, err
	}
	return kc, nil
}

// Load unmarshals the loaded sources onto a Config seeded with defaults.
func (kc *KoanfConfig) Load() (*Config, error) {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	cfg := DefaultConfig()
	fields := make(map[string]string, len(k.Keys()))
	for key, val := range k.All() {
		fields[key] = fmt.Sprintf("%v", val)
	}
	applyFields(cfg, fields)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Reload reloads configuration from all sources.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), KVParser{}); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}

	// Environment variables override the file. Unlike the teacher's nested
	// LYREBIRD_DEVICES_*/LYREBIRD_STREAM_* transform, Stentor's config keys
	// are already flat, so env vars map straight through: STENTOR_<KEY> for
	// the spec-named keys (already uppercase with underscores) and
	// STENTOR_<UPPER_SNAKE_KEY> for the operational keys (lowercased in the
	// file, uppercased by the shell/env convention).
	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			stripped := strings.TrimPrefix(k, kc.envPrefix+"_")
			// The spec-named keys listed in specNamedSuffixes keep a
			// STENTOR_ prefix as their config key (e.g. STENTOR_REMOTE_USER);
			// the env prefix was stripped above, so put STENTOR_ back for
			// those keys before falling back to the lowercase
			// operational-key form.
			for _, specKey := range specNamedSuffixes {
				if stripped == specKey {
					return "STENTOR_" + stripped, v
				}
			}
			return strings.ToLower(stripped), v
		},
	})

	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()
	return nil
}

// specNamedSuffixes are the §6 "Recognized keys" with their STENTOR_ prefix
// already stripped, used to restore the on-disk key form from an env var.
var specNamedSuffixes = []string{
	"REMOTE_USER",
	"REMOTE_HOST",
	"REMOTE_AUDIO_INBOX_DIR",
	"VOLUME_NAME",
	"SSH_KEY_PATH",
}

// Watch starts watching stentor.conf for changes, invoking callback on
// every reload. M-9 limitation carried over from the teacher unchanged:
// koanf v2's file.Provider cannot be stopped early, so its fsnotify
// goroutine outlives ctx cancellation and is reclaimed at process exit.
func (kc *KoanfConfig) Watch(ctx context.Context, callback func(event string, err error)) error {
	if kc.filePath == "" {
		return fmt.Errorf("cannot watch: no file path specified")
	}

	fp := file.Provider(kc.filePath)
	watchErr := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			callback("watch error", fmt.Errorf("file watch error: %w", err))
			return
		}
		if err := kc.reload(); err != nil {
			callback("reload error", fmt.Errorf("config reload failed: %w", err))
			return
		}
		callback("config reloaded", nil)
	})
	if watchErr != nil {
		return fmt.Errorf("start watching: %w", watchErr)
	}

	<-ctx.Done()
	return nil
}
