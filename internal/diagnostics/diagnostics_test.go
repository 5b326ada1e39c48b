package diagnostics

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewRunner(t *testing.T) {
	opts := Options{Role: RoleWorker}
	runner := NewRunner(opts)

	if runner == nil {
		t.Fatal("expected runner to be non-nil")
	}
	if runner.opts.Role != RoleWorker {
		t.Errorf("expected Role to be %q, got %q", RoleWorker, runner.opts.Role)
	}
}

func TestCheckStatusValues(t *testing.T) {
	tests := []struct {
		status   CheckStatus
		expected string
	}{
		{StatusOK, "OK"},
		{StatusWarning, "WARNING"},
		{StatusCritical, "CRITICAL"},
		{StatusSkipped, "SKIPPED"},
		{StatusError, "ERROR"},
	}

	for _, tt := range tests {
		if string(tt.status) != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, string(tt.status))
		}
	}
}

func TestGetChecksByRole(t *testing.T) {
	client := NewRunner(Options{Role: RoleClient}).getChecks()
	if len(client) != 2 {
		t.Errorf("expected 2 client checks, got %d", len(client))
	}

	worker := NewRunner(Options{Role: RoleWorker}).getChecks()
	if len(worker) != 4 {
		t.Errorf("expected 4 worker checks, got %d", len(worker))
	}

	all := NewRunner(Options{Role: RoleAll}).getChecks()
	if len(all) != 6 {
		t.Errorf("expected 6 checks for RoleAll, got %d", len(all))
	}
}

func TestCheckDownloaderBinaryMissing(t *testing.T) {
	runner := NewRunner(Options{Role: RoleClient})
	result := runner.checkDownloaderBinary(context.Background())
	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical for unconfigured downloader, got %q", result.Status)
	}
}

func TestCheckDownloaderBinaryPresent(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-downloader")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(Options{Role: RoleClient, DownloaderPath: bin})
	result := runner.checkDownloaderBinary(context.Background())
	if result.Status != StatusOK {
		t.Errorf("expected StatusOK, got %q: %s", result.Status, result.Message)
	}
}

func TestCheckBinaryPresentNonExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "not-executable")
	if err := os.WriteFile(bin, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	result := checkBinaryPresent("Test Binary", "External", bin, "test_path")
	if result.Status != StatusWarning {
		t.Errorf("expected StatusWarning for non-executable file, got %q", result.Status)
	}
}

func TestCheckBinaryPresentDirectory(t *testing.T) {
	dir := t.TempDir()
	result := checkBinaryPresent("Test Binary", "External", dir, "test_path")
	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical for directory path, got %q", result.Status)
	}
}

func TestCheckRemoteMountSkippedWhenUnconfigured(t *testing.T) {
	runner := NewRunner(Options{Role: RoleClient})
	result := runner.checkRemoteMount(context.Background())
	if result.Status != StatusSkipped {
		t.Errorf("expected StatusSkipped, got %q", result.Status)
	}
}

func TestCheckLockDirWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "locks")
	runner := NewRunner(Options{Role: RoleWorker, LockDir: dir})
	result := runner.checkLockDirWritable(context.Background())
	if result.Status != StatusOK {
		t.Errorf("expected StatusOK, got %q: %s", result.Status, result.Message)
	}
}

func TestCheckLockDirWritableUnconfigured(t *testing.T) {
	runner := NewRunner(Options{Role: RoleWorker})
	result := runner.checkLockDirWritable(context.Background())
	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical, got %q", result.Status)
	}
}

func TestCheckHistoryParseable(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "processed_files.txt")
	if err := os.WriteFile(path, []byte("abc123|2024-01-01_000000|SUCCESS|show.mp3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(Options{Role: RoleWorker, HarvestingRoot: root})
	result := runner.checkHistoryParseable(context.Background())
	if result.Status != StatusOK {
		t.Errorf("expected StatusOK, got %q: %s", result.Status, result.Message)
	}
}

func TestCheckHistoryParseableMissingFileIsOK(t *testing.T) {
	root := t.TempDir()
	runner := NewRunner(Options{Role: RoleWorker, HarvestingRoot: root})
	result := runner.checkHistoryParseable(context.Background())
	if result.Status != StatusOK {
		t.Errorf("a missing history file should not be an error, got %q: %s", result.Status, result.Message)
	}
}

func TestRunClientRole(t *testing.T) {
	runner := NewRunner(Options{Role: RoleClient})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil {
		t.Fatal("expected report to be non-nil")
	}
	if len(report.Checks) != 2 {
		t.Errorf("expected 2 checks for RoleClient, got %d", len(report.Checks))
	}
	if report.Summary.Total != len(report.Checks) {
		t.Errorf("Summary.Total (%d) should match len(Checks) (%d)", report.Summary.Total, len(report.Checks))
	}
	if report.Healthy {
		t.Error("expected report to be unhealthy (downloader path unconfigured)")
	}
}

func TestRunContextCancellation(t *testing.T) {
	runner := NewRunner(Options{Role: RoleAll})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		_, _ = runner.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}

func TestPrintReport(t *testing.T) {
	report := &DiagnosticReport{
		Timestamp: time.Now(),
		Duration:  time.Second,
		SystemInfo: &SystemInfo{
			Hostname:     "test-host",
			OS:           "linux",
			Architecture: "amd64",
			CPUs:         4,
			GoVersion:    "go1.24",
		},
		Checks: []CheckResult{
			{Name: "Downloader", Category: "External", Status: StatusOK, Message: "Downloader available"},
			{Name: "Audio Tool", Category: "External", Status: StatusWarning, Message: "not executable", Suggestions: []string{"chmod +x"}},
		},
		Summary: &Summary{Total: 2, OK: 1, Warning: 1},
		Healthy: true,
	}

	var buf bytes.Buffer
	PrintReport(&buf, report)
	output := buf.String()

	if !strings.Contains(output, "Stentor Diagnostics Report") {
		t.Error("expected output to contain title")
	}
	if !strings.Contains(output, "test-host") {
		t.Error("expected output to contain hostname")
	}
	if !strings.Contains(output, "Downloader") {
		t.Error("expected output to contain check name")
	}
	if !strings.Contains(output, "chmod +x") {
		t.Error("expected output to contain suggestion")
	}
	if !strings.Contains(output, "HEALTHY") {
		t.Error("expected output to indicate healthy status")
	}
}

func TestToJSON(t *testing.T) {
	report := &DiagnosticReport{
		Timestamp:  time.Now(),
		Duration:   time.Second,
		SystemInfo: &SystemInfo{Hostname: "test", OS: "linux"},
		Checks:     []CheckResult{{Name: "Test", Status: StatusOK}},
		Summary:    &Summary{Total: 1, OK: 1},
		Healthy:    true,
	}

	data, err := report.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}
	if !strings.Contains(string(data), "test") {
		t.Error("expected JSON to contain hostname")
	}
}
