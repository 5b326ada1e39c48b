// SPDX-License-Identifier: MIT

// Package diagnostics provides operator-facing health checks for
// Stentor's external collaborators: the binaries and filesystem
// resources the pipeline shells out to or depends on, none of which
// the core implements itself (§1 "Explicitly out of scope").
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/stentor-audio/stentor/internal/history"
	"github.com/stentor-audio/stentor/internal/mount"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusSkipped  CheckStatus = "SKIPPED"
	StatusError    CheckStatus = "ERROR"
)

// DiagnosticReport contains results from all diagnostic checks.
type DiagnosticReport struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	GoVersion    string `json:"go_version"`
}

// Summary contains a summary of check results.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Skipped  int `json:"skipped"`
	Error    int `json:"error"`
}

// Options configures the diagnostic run. Role determines which checks
// apply: a client host (Harvester) never has AudioToolPath/STTBinaryPath
// configured, and a worker host never has LocalMountPoint configured, so
// running the full check set unconditionally would report false
// failures for fields the operator was never meant to set.
type Options struct {
	Role Role

	DownloaderPath string
	AudioToolPath  string
	STTBinaryPath  string

	LocalMountPoint string
	MountCmd        string
	MountArgs       []string
	UnmountCmd      string
	UnmountArgs     []string

	LockDir         string
	HarvestingRoot  string
	HistoryFileName string
}

// Role selects which side of the pipeline is being diagnosed.
type Role string

const (
	RoleClient Role = "client" // Harvester host
	RoleWorker Role = "worker" // Queue Engine / Job Supervisor host
	RoleAll    Role = "all"    // Both, for a combined single-host deployment
)

// Runner executes diagnostic checks.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Run executes all applicable diagnostic checks and returns a report.
func (r *Runner) Run(ctx context.Context) (*DiagnosticReport, error) {
	start := time.Now()

	report := &DiagnosticReport{
		Timestamp:  start,
		SystemInfo: collectSystemInfo(),
		Summary:    &Summary{},
	}

	for _, check := range r.getChecks() {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		result := check(ctx)
		report.Checks = append(report.Checks, result)

		report.Summary.Total++
		switch result.Status {
		case StatusOK:
			report.Summary.OK++
		case StatusWarning:
			report.Summary.Warning++
		case StatusCritical:
			report.Summary.Critical++
		case StatusSkipped:
			report.Summary.Skipped++
		case StatusError:
			report.Summary.Error++
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0
	return report, nil
}

// getChecks returns the checks applicable to the configured Role.
func (r *Runner) getChecks() []func(context.Context) CheckResult {
	var checks []func(context.Context) CheckResult

	if r.opts.Role == RoleClient || r.opts.Role == RoleAll {
		checks = append(checks,
			r.checkDownloaderBinary,
			r.checkRemoteMount,
		)
	}

	if r.opts.Role == RoleWorker || r.opts.Role == RoleAll {
		checks = append(checks,
			r.checkAudioTool,
			r.checkSTTBinary,
			r.checkLockDirWritable,
			r.checkHistoryParseable,
		)
	}

	return checks
}

func collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	return info
}

// checkDownloaderBinary verifies the external media-download tool (C4)
// is present and executable.
func (r *Runner) checkDownloaderBinary(ctx context.Context) CheckResult {
	return checkBinaryPresent("Downloader", "External", r.opts.DownloaderPath, "downloader_path")
}

// checkAudioTool verifies the external audio-analysis tool (C7) is
// present and executable.
func (r *Runner) checkAudioTool(ctx context.Context) CheckResult {
	return checkBinaryPresent("Audio Tool", "External", r.opts.AudioToolPath, "audio_tool_path")
}

// checkSTTBinary verifies the external speech-to-text engine (C8) is
// present and executable.
func (r *Runner) checkSTTBinary(ctx context.Context) CheckResult {
	return checkBinaryPresent("STT Binary", "External", r.opts.STTBinaryPath, "stt_binary_path")
}

func checkBinaryPresent(name, category, path, configKey string) CheckResult {
	start := time.Now()
	result := CheckResult{Name: name, Category: category}

	if path == "" {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%s not configured", configKey)
		result.Duration = time.Since(start)
		return result
	}

	resolved := path
	if !filepath.IsAbs(path) {
		found, err := exec.LookPath(path)
		if err != nil {
			result.Status = StatusCritical
			result.Message = fmt.Sprintf("%s not found on PATH: %s", name, path)
			result.Duration = time.Since(start)
			return result
		}
		resolved = found
	}

	info, err := os.Stat(resolved)
	switch {
	case err != nil:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%s does not exist: %s", name, resolved)
	case info.IsDir():
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("%s path is a directory, not a binary: %s", name, resolved)
	case info.Mode()&0111 == 0:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("%s exists but is not executable: %s", name, resolved)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("%s available", name)
		result.Details = resolved
	}

	result.Duration = time.Since(start)
	return result
}

// checkRemoteMount verifies the remote filesystem (C3) is mounted and
// responsive, mirroring the Harvester's own pre-flight probe.
func (r *Runner) checkRemoteMount(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Remote Mount", Category: "Filesystem"}

	if r.opts.LocalMountPoint == "" {
		result.Status = StatusSkipped
		result.Message = "LOCAL_MOUNT_POINT not configured"
		result.Duration = time.Since(start)
		return result
	}

	prober := mount.New(r.opts.LocalMountPoint, r.opts.MountCmd, r.opts.MountArgs, r.opts.UnmountCmd, r.opts.UnmountArgs)
	if prober.IsMountedAndResponsive(ctx) {
		result.Status = StatusOK
		result.Message = "Remote mount responsive"
	} else {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("Remote mount at %s not mounted or not responsive", r.opts.LocalMountPoint)
		result.Suggestions = append(result.Suggestions, "Check the mount helper and remote host reachability")
	}

	result.Duration = time.Since(start)
	return result
}

// checkLockDirWritable verifies the Lock Manager's (C1) shared lock
// directory exists and accepts new files.
func (r *Runner) checkLockDirWritable(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Lock Directory", Category: "Filesystem"}

	if r.opts.LockDir == "" {
		result.Status = StatusCritical
		result.Message = "lock_dir not configured"
		result.Duration = time.Since(start)
		return result
	}

	if err := os.MkdirAll(r.opts.LockDir, 0755); err != nil { // #nosec G301 -- operator-configured lock directory
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("cannot create lock directory: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	probe := filepath.Join(r.opts.LockDir, ".diagnostics-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0644); err != nil { // #nosec G306 -- transient probe file, non-secret
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("lock directory not writable: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	_ = os.Remove(probe)

	result.Status = StatusOK
	result.Message = "Lock directory writable"
	result.Details = r.opts.LockDir
	result.Duration = time.Since(start)
	return result
}

// checkHistoryParseable reads the History Store (C2) file, if it exists,
// through history.Store.Tail and reports how many records parse. Lines
// that do not parse are skipped by Tail, not reported; the check fails
// only when the file cannot be opened or read.
func (r *Runner) checkHistoryParseable(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "History File", Category: "Filesystem"}

	if r.opts.HarvestingRoot == "" {
		result.Status = StatusCritical
		result.Message = "harvesting_root not configured"
		result.Duration = time.Since(start)
		return result
	}

	name := r.opts.HistoryFileName
	if name == "" {
		name = "processed_files.txt"
	}
	path := filepath.Join(r.opts.HarvestingRoot, name)

	store := history.Open(path)
	entries, err := store.Tail(1 << 20)
	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("failed to read history file: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("History file parses cleanly (%d record(s))", len(entries))
	result.Details = path
	result.Duration = time.Since(start)
	return result
}

// PrintReport prints a formatted diagnostic report.
func PrintReport(w io.Writer, report *DiagnosticReport) {
	_, _ = fmt.Fprintf(w, "Stentor Diagnostics Report\n")
	_, _ = fmt.Fprintf(w, "==========================\n\n")
	_, _ = fmt.Fprintf(w, "Host: %s (%s/%s)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range report.Checks {
		if _, seen := categories[check.Category]; !seen {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, category := range order {
		_, _ = fmt.Fprintf(w, "%s\n", category)
		for _, check := range categories[category] {
			status := "OK"
			switch check.Status {
			case StatusWarning:
				status = "WARN"
			case StatusCritical:
				status = "CRIT"
			case StatusError:
				status = "ERR "
			case StatusSkipped:
				status = "SKIP"
			}
			_, _ = fmt.Fprintf(w, "  [%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "        %s\n", check.Details)
			}
			for _, suggestion := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "        -> %s\n", suggestion)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: total=%d ok=%d warning=%d critical=%d error=%d skipped=%d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning,
		report.Summary.Critical, report.Summary.Error, report.Summary.Skipped)

	if report.Healthy {
		_, _ = fmt.Fprintf(w, "Status: HEALTHY\n")
	} else {
		_, _ = fmt.Fprintf(w, "Status: ISSUES DETECTED\n")
	}
}

// ToJSON converts the report to JSON format.
func (r *DiagnosticReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
