// SPDX-License-Identifier: MIT

// Package segment implements the Segmentation Engine (C7): normalizing an
// arbitrary input audio file to canonical PCM and splitting it into
// silence-delimited time ranges for independent transcription.
//
// The external audio tool invocation follows the same exec.CommandContext
// + combined-output-capture idiom used throughout Stentor (internal/fetch,
// internal/mount), grounded on the teacher's buildFFmpegCommand argv
// construction discipline.
package segment

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

const (
	// TargetSampleRate is the canonical WAV's sample rate (§4.7, §GLOSSARY).
	TargetSampleRate = 16000
	// TargetChannels is the canonical WAV's channel count (mono).
	TargetChannels = 1

	// SilenceNoiseThresholdDB is the silencedetect noise floor (§4.7).
	SilenceNoiseThresholdDB = -30
	// SilenceDurationThreshold is the minimum silence length to detect (§4.7).
	SilenceDurationThreshold = 1.0
	// MinSegmentDuration is the minimum length a candidate segment must
	// meet to be emitted rather than skipped (§4.7).
	MinSegmentDuration = 1.0
	// SegmentPadding is the overlap subtracted from a silence's end before
	// the next segment's cursor, to reduce mid-word truncation (§4.7).
	SegmentPadding = 0.25
)

// Method records how a run's segments were produced, for the
// segmentation_info side file.
type Method string

const (
	MethodNone            Method = "none"
	MethodSilenceDetected Method = "silence-detection"
)

// Segment is one contiguous time range of the canonical WAV, extracted as
// its own file (§3).
type Segment struct {
	Index    int     // 1-based
	StartSec float64
	Duration float64
	Path     string
}

// Filename returns the zero-padded segment_NNN.wav basename (§3: "index
// (1-based, zero-padded to 3 digits)").
func (s Segment) Filename() string {
	return fmt.Sprintf("segment_%03d.wav", s.Index)
}

// Engine normalizes input audio and detects segments using an external
// audio tool (ffmpeg-compatible CLI: -i, silencedetect filter, -ss/-t).
type Engine struct {
	AudioToolPath string
}

// Info is the human-readable segmentation_info record (§4.7 "the engine
// writes a human-readable segmentation_info record").
type Info struct {
	TotalDurationSec float64           `yaml:"total_duration_sec"`
	Method           Method            `yaml:"method"`
	NoiseThresholdDB int               `yaml:"noise_threshold_db"`
	MinSilenceSec    float64           `yaml:"min_silence_sec"`
	Segments         []SegmentInfoLine `yaml:"segments"`
}

// SegmentInfoLine is one row of the index->filename->duration table.
type SegmentInfoLine struct {
	Index    int     `yaml:"index"`
	Filename string  `yaml:"filename"`
	Duration float64 `yaml:"duration_sec"`
}

// Result is the Engine's output for one run: the workable canonical WAV,
// the ordered Segments, and the Info record (not written to disk by
// Process; the caller writes it with WriteInfo).
type Result struct {
	WorkablePath string
	Segments     []Segment
	Info         Info
}

// Process runs the full C7 pipeline: normalize inputPath to a canonical
// WAV at workablePath, detect silences, and extract segments into
// segmentsDir. It is the single entry point Job Supervisor (C10) calls.
func (e *Engine) Process(ctx context.Context, inputPath, workablePath, segmentsDir string) (Result, error) {
	if err := e.normalize(ctx, inputPath, workablePath); err != nil {
		return Result{}, fmt.Errorf("normalize input audio: %w", err)
	}

	totalDuration, err := e.probeDuration(ctx, workablePath)
	if err != nil {
		return Result{}, fmt.Errorf("probe duration: %w", err)
	}

	starts, ends, err := e.detectSilences(ctx, workablePath)
	if err != nil {
		return Result{}, fmt.Errorf("detect silences: %w", err)
	}

	ranges := buildSegmentRanges(starts, ends, totalDuration)

	if err := os.MkdirAll(segmentsDir, 0755); err != nil { // #nosec G301 -- run directory, not world-sensitive
		return Result{}, fmt.Errorf("create segments directory: %w", err)
	}

	segments := make([]Segment, 0, len(ranges))
	info := Info{
		TotalDurationSec: totalDuration,
		NoiseThresholdDB: SilenceNoiseThresholdDB,
		MinSilenceSec:    SilenceDurationThreshold,
	}
	if len(starts) == 0 {
		info.Method = MethodNone
	} else {
		info.Method = MethodSilenceDetected
	}

	if len(starts) == 0 {
		// No silences: alias the workable file as segment_001 instead of
		// re-encoding a byte-identical copy (§4.7).
		seg := Segment{Index: 1, StartSec: 0, Duration: totalDuration, Path: filepath.Join(segmentsDir, "segment_001.wav")}
		if err := aliasFile(workablePath, seg.Path); err != nil {
			return Result{}, fmt.Errorf("alias workable file as segment 1: %w", err)
		}
		segments = append(segments, seg)
	} else {
		for i, r := range ranges {
			seg := Segment{Index: i + 1, StartSec: r.start, Duration: r.duration}
			seg.Path = filepath.Join(segmentsDir, seg.Filename())
			if err := e.extractSegment(ctx, workablePath, seg); err != nil {
				return Result{}, fmt.Errorf("extract segment %d: %w", seg.Index, err)
			}
			segments = append(segments, seg)
		}
	}

	for _, s := range segments {
		info.Segments = append(info.Segments, SegmentInfoLine{Index: s.Index, Filename: s.Filename(), Duration: s.Duration})
	}

	return Result{WorkablePath: workablePath, Segments: segments, Info: info}, nil
}

// WriteInfo serializes a segmentation_info record as YAML to path.
func WriteInfo(path string, info Info) error {
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal segmentation info: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil { // #nosec G306 -- run directory output, not sensitive
		return fmt.Errorf("write segmentation info: %w", err)
	}
	return nil
}

type segRange struct {
	start    float64
	duration float64
}

// buildSegmentRanges walks the silence-start/silence-end pairs and emits
// candidate segment ranges per §4.7's cursor-advance algorithm.
func buildSegmentRanges(starts, ends []float64, totalDuration float64) []segRange {
	if len(starts) == 0 {
		return []segRange{{start: 0, duration: totalDuration}}
	}

	var ranges []segRange
	cursor := 0.0
	for i, s := range starts {
		duration := s - cursor
		if duration >= MinSegmentDuration {
			ranges = append(ranges, segRange{start: cursor, duration: duration})
		}

		end := totalDuration
		if i < len(ends) {
			end = ends[i]
		}
		cursor = end - SegmentPadding
		if cursor < 0 {
			cursor = 0
		}
	}

	if final := totalDuration - cursor; final >= MinSegmentDuration {
		ranges = append(ranges, segRange{start: cursor, duration: final})
	}

	if len(ranges) == 0 {
		// Every candidate fell below the minimum: fall back to the whole
		// file rather than emitting zero segments.
		return []segRange{{start: 0, duration: totalDuration}}
	}
	return ranges
}

// normalize copies inputPath to workablePath verbatim if it is already
// canonical PCM, otherwise transcodes losslessly with the external audio
// tool.
func (e *Engine) normalize(ctx context.Context, inputPath, workablePath string) error {
	if err := os.MkdirAll(filepath.Dir(workablePath), 0755); err != nil { // #nosec G301
		return fmt.Errorf("create workable directory: %w", err)
	}

	canonical, err := e.isCanonicalPCM(ctx, inputPath)
	if err != nil {
		return err
	}
	if canonical {
		return copyFile(inputPath, workablePath)
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-c:a", "pcm_s16le",
		workablePath,
	}
	// #nosec G204 -- AudioToolPath is operator configuration, inputPath is a claimed queue file
	cmd := exec.CommandContext(ctx, e.AudioToolPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// streamInfoPattern pulls sample_rate, channels, and codec_name from
// ffprobe's default key=value stream output (ffprobe -show_streams
// -select_streams a:0 -of flat is avoided in favor of the simpler
// -show_entries form so the parser only needs a flat key=value scan).
var streamInfoPattern = regexp.MustCompile(`^(sample_rate|channels|codec_name)=(.+)$`)

// isCanonicalPCM probes path's primary audio stream and reports whether it
// already matches TargetSampleRate/TargetChannels and 16-bit PCM.
func (e *Engine) isCanonicalPCM(ctx context.Context, path string) (bool, error) {
	probePath := probeToolPath(e.AudioToolPath)
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels,codec_name",
		"-of", "default=noprint_wrappers=1",
		path,
	}
	// #nosec G204 -- probePath derived from operator configuration, path is a claimed queue file
	cmd := exec.CommandContext(ctx, probePath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("probe audio stream: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	var sampleRate, channels, codec string
	for _, line := range strings.Split(string(out), "\n") {
		m := streamInfoPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		switch m[1] {
		case "sample_rate":
			sampleRate = m[2]
		case "channels":
			channels = m[2]
		case "codec_name":
			codec = m[2]
		}
	}

	sr, _ := strconv.Atoi(sampleRate)
	ch, _ := strconv.Atoi(channels)
	isPCM := codec == "pcm_s16le" || codec == "pcm_s16be"
	return sr == TargetSampleRate && ch == TargetChannels && isPCM, nil
}

// probeToolPath derives the probe binary (ffprobe) from the configured
// audio tool path (ffmpeg), following the sibling-binary convention the
// ffmpeg/ffprobe distribution ships with.
func probeToolPath(audioToolPath string) string {
	dir := filepath.Dir(audioToolPath)
	base := filepath.Base(audioToolPath)
	probeBase := strings.Replace(base, "ffmpeg", "ffprobe", 1)
	if probeBase == base {
		probeBase = "ffprobe"
	}
	if dir == "." {
		return probeBase
	}
	return filepath.Join(dir, probeBase)
}

// silenceStartPattern and silenceEndPattern parse ffmpeg's silencedetect
// filter log lines:
//
//	[silencedetect @ 0x...] silence_start: 12.345
//	[silencedetect @ 0x...] silence_end: 14.0 | silence_duration: 1.655
var (
	silenceStartPattern = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndPattern   = regexp.MustCompile(`silence_end:\s*(-?[0-9.]+)`)
)

// detectSilences runs the silencedetect filter and parses ordered
// silence-start/silence-end timestamp sequences from its stderr output.
func (e *Engine) detectSilences(ctx context.Context, path string) (starts, ends []float64, err error) {
	filter := fmt.Sprintf("silencedetect=noise=%ddB:d=%g", SilenceNoiseThresholdDB, SilenceDurationThreshold)
	args := []string{"-i", path, "-af", filter, "-f", "null", "-"}
	// #nosec G204 -- AudioToolPath is operator configuration, path is a claimed queue file
	cmd := exec.CommandContext(ctx, e.AudioToolPath, args...)
	stderr, pipeErr := cmd.StderrPipe()
	if pipeErr != nil {
		return nil, nil, fmt.Errorf("open silencedetect stderr: %w", pipeErr)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start silencedetect: %w", err)
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if m := silenceStartPattern.FindStringSubmatch(line); m != nil {
			if v, convErr := strconv.ParseFloat(m[1], 64); convErr == nil {
				starts = append(starts, v)
			}
			continue
		}
		if m := silenceEndPattern.FindStringSubmatch(line); m != nil {
			if v, convErr := strconv.ParseFloat(m[1], 64); convErr == nil {
				ends = append(ends, v)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, nil, fmt.Errorf("silencedetect exited with error: %w", err)
	}
	return starts, ends, nil
}

// durationPattern extracts "Duration: HH:MM:SS.ms" from ffmpeg's stderr
// banner when no other probe is available.
var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

// probeDuration returns the total duration in seconds of path.
func (e *Engine) probeDuration(ctx context.Context, path string) (float64, error) {
	probePath := probeToolPath(e.AudioToolPath)
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path}
	// #nosec G204 -- probePath derived from operator configuration, path is a claimed queue file
	cmd := exec.CommandContext(ctx, probePath, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		if v, convErr := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); convErr == nil {
			return v, nil
		}
	}

	// Fallback: parse ffmpeg's own banner.
	// #nosec G204
	cmd = exec.CommandContext(ctx, e.AudioToolPath, "-i", path)
	out, _ = cmd.CombinedOutput()
	m := durationPattern.FindStringSubmatch(string(out))
	if m == nil {
		return 0, fmt.Errorf("could not determine duration of %s", path)
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, nil
}

// extractSegment writes seg's time range from source into seg.Path as
// canonical WAV, using -ss/-t per §4.7.
func (e *Engine) extractSegment(ctx context.Context, source string, seg Segment) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(seg.StartSec),
		"-t", formatSeconds(seg.Duration),
		"-i", source,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-c:a", "pcm_s16le",
		seg.Path,
	}
	// #nosec G204 -- AudioToolPath is operator configuration, source is this run's own workable file
	cmd := exec.CommandContext(ctx, e.AudioToolPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(math.Max(0, v), 'f', 3, 64)
}

func copyFile(src, dst string) error {
	// #nosec G304 -- src is a claimed queue file, dst is this run's own workable path
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst) // #nosec G304 -- dst is this run's own workable path
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return fmt.Errorf("copy file contents: %w", err)
	}
	return out.Sync()
}

// aliasFile hardlinks dst to src, falling back to a copy if the
// filesystem doesn't support hardlinks (e.g. across devices).
func aliasFile(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}
