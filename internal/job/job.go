// SPDX-License-Identifier: MIT

// Package job implements the Job Supervisor (C10): the single-file
// pipeline that runs Segmentation (C7), Transcription (C8), and Assembly
// (C9) under the audio-processing Lock, and defines the machine-readable
// stdout/exit-code contract the Queue Engine (C11) depends on.
package job

import (
	"context"
	"crypto/md5" // #nosec G501 -- run-id collision resistance, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stentor-audio/stentor/internal/assemble"
	"github.com/stentor-audio/stentor/internal/lock"
	"github.com/stentor-audio/stentor/internal/segment"
	"github.com/stentor-audio/stentor/internal/transcribe"
)

// Exit codes are the machine-readable contract between the Job
// Supervisor and the Queue Engine (§4.10 item 6, §4.11 step 5).
const (
	ExitSuccess          = 0
	ExitFailure          = 1
	ExitValidationFailed = 2
	ExitRetryableLock    = 10
)

// ErrLockHeld signals the retryable lock-contention outcome (exit 10):
// a peer holds the audio-processing lock and this file should be
// requeued, not failed.
var ErrLockHeld = fmt.Errorf("job: audio-processing lock held by a live peer")

// RunContext is the per-job state created when the Job Supervisor claims
// a file (§3 "RunContext").
type RunContext struct {
	SourcePath        string
	RunID             string
	RunDir            string
	WorkableWavPath   string
	SegmentsDir       string
	TranscriptMDPath  string
	TranscriptTxtPath string
	InfoPath          string
	ModelsToTry       []string
	TimeoutMultiplier int
}

// NewRunContext builds a RunContext for sourcePath under runsRoot. run_id
// is md5(basename) + "_" + timestamp, guaranteeing uniqueness even across
// repeated runs of an identically-named file (§3).
func NewRunContext(sourcePath, runsRoot string, models []string, timeoutMultiplier int) RunContext {
	basename := filepath.Base(sourcePath)
	sum := md5.Sum([]byte(basename)) // #nosec G401 -- identifier derivation, not a security boundary
	runID := fmt.Sprintf("%s_%s", hex.EncodeToString(sum[:]), time.Now().Format("20060102_150405"))
	runDir := filepath.Join(runsRoot, runID)

	return RunContext{
		SourcePath:        sourcePath,
		RunID:             runID,
		RunDir:            runDir,
		WorkableWavPath:   filepath.Join(runDir, "audio_workable.wav"),
		SegmentsDir:       filepath.Join(runDir, "segments"),
		TranscriptMDPath:  filepath.Join(runDir, "audio_transcript.md"),
		TranscriptTxtPath: filepath.Join(runDir, "audio_transcript.txt"),
		InfoPath:          filepath.Join(runDir, "segmentation_info"),
		ModelsToTry:       models,
		TimeoutMultiplier: timeoutMultiplier,
	}
}

// Options configures a Supervisor run.
type Options struct {
	LockPath          string
	LockTimeout       time.Duration
	RunsRoot          string
	AudioToolPath     string
	STTBinaryPath     string
	ModelResolver     transcribe.ModelResolver
	Models            []string
	TimeoutMultiplier int
	Description       string // sidecar description text, if any, for the prompt
	CleanupTempAudio  bool
	Stderr            func(string)
}

// Supervisor runs one file's full C7→C8→C9 pipeline.
type Supervisor struct {
	opts Options
	lk   *lock.Lock
}

// New constructs a Supervisor and its underlying Lock (but does not
// acquire it).
func New(opts Options) (*Supervisor, error) {
	lk, err := lock.New(opts.LockPath, opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("construct audio-processing lock: %w", err)
	}
	return &Supervisor{opts: opts, lk: lk}, nil
}

// Run executes the full pipeline for sourcePath. It returns ErrLockHeld
// when the lock is held by a live peer (the caller should translate this
// to ExitRetryableLock); any other non-nil error should be translated to
// ExitFailure.
//
// On success, cleanTranscriptPath is the absolute path to the clean
// transcript — the Job Supervisor's stdout/exit-code contract requires
// this be the last line of stdout (§4.10 item 4); callers own emitting
// it, Run only returns the value.
func (s *Supervisor) Run(ctx context.Context, sourcePath string) (cleanTranscriptPath string, err error) {
	result, err := s.lk.Acquire()
	if err != nil {
		return "", fmt.Errorf("acquire audio-processing lock: %w", err)
	}
	if result == lock.HELD {
		return "", ErrLockHeld
	}
	defer func() {
		if releaseErr := s.lk.Release(); releaseErr != nil && s.opts.Stderr != nil {
			s.opts.Stderr(fmt.Sprintf("release audio-processing lock: %v", releaseErr))
		}
	}()

	rc := NewRunContext(sourcePath, s.opts.RunsRoot, s.opts.Models, s.opts.TimeoutMultiplier)
	if err := os.MkdirAll(rc.RunDir, 0755); err != nil { // #nosec G301 -- per-run working directory
		return "", fmt.Errorf("create run directory: %w", err)
	}

	segEngine := &segment.Engine{AudioToolPath: s.opts.AudioToolPath}
	segResult, err := segEngine.Process(ctx, sourcePath, rc.WorkableWavPath, rc.SegmentsDir)
	if err != nil {
		return "", fmt.Errorf("segmentation: %w", err)
	}
	if err := segment.WriteInfo(rc.InfoPath, segResult.Info); err != nil {
		return "", fmt.Errorf("write segmentation info: %w", err)
	}

	txEngine := &transcribe.Engine{
		STTBinaryPath:     s.opts.STTBinaryPath,
		Resolver:          s.opts.ModelResolver,
		TimeoutMultiplier: rc.TimeoutMultiplier,
		Stderr:            s.opts.Stderr,
	}
	runInfo := transcribe.RunInfo{
		Title:       transcribe.CleanTitle(filepath.Base(sourcePath)),
		Description: s.opts.Description,
	}

	start := time.Now()
	results, txErr := txEngine.Transcribe(ctx, segResult.Segments, rc.ModelsToTry, runInfo)
	elapsed := time.Since(start)
	// Even on ErrAllModelsFailed, Transcribe returns partial results for
	// every segment attempted so far; assemble the detailed transcript
	// regardless so the run directory is useful for forensic inspection.
	meta := assemble.RunMetadata{
		OriginalBasename:  filepath.Base(sourcePath),
		RunTimestamp:      start,
		ModelsRequested:   rc.ModelsToTry,
		TimeoutMultiplier: rc.TimeoutMultiplier,
		Elapsed:           elapsed,
	}
	detailed := assemble.Detailed(meta, results)
	if writeErr := os.WriteFile(rc.TranscriptMDPath, []byte(detailed), 0644); writeErr != nil { // #nosec G306 -- run directory output
		return "", fmt.Errorf("write detailed transcript: %w", writeErr)
	}

	if txErr != nil {
		return "", fmt.Errorf("transcription: %w", txErr)
	}

	clean := assemble.Clean(results)
	if err := os.WriteFile(rc.TranscriptTxtPath, []byte(clean), 0644); err != nil { // #nosec G306
		return "", fmt.Errorf("write clean transcript: %w", err)
	}

	if s.opts.CleanupTempAudio {
		_ = os.Remove(rc.WorkableWavPath)
		_ = os.RemoveAll(rc.SegmentsDir)
	}

	return rc.TranscriptTxtPath, nil
}

// Release is exposed so a signal handler can release the lock directly
// without waiting for Run's deferred cleanup (§4.10 "Signal handling: on
// INT/TERM, release the Lock and exit with a non-zero status").
func (s *Supervisor) Release() error {
	return s.lk.Release()
}
