// SPDX-License-Identifier: MIT

// Package assemble implements the Run Assembler (C9): rendering a run's
// per-segment transcription results into the two on-disk transcript
// forms the rest of Stentor consumes.
package assemble

import (
	"fmt"
	"strings"
	"time"

	"github.com/stentor-audio/stentor/internal/transcribe"
)

// RunMetadata is the header information for the detailed transcript
// (§4.9 "a header block listing the original basename, run timestamp,
// models requested, and effective timeout multiplier").
type RunMetadata struct {
	OriginalBasename  string
	RunTimestamp      time.Time
	ModelsRequested   []string
	TimeoutMultiplier int
	Elapsed           time.Duration
}

// Detailed renders the Markdown-flavored detailed transcript.
func Detailed(meta RunMetadata, results []transcribe.SegmentResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Transcript: %s\n\n", meta.OriginalBasename)
	fmt.Fprintf(&b, "- Run timestamp: %s\n", meta.RunTimestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Models requested: %s\n", strings.Join(meta.ModelsRequested, ", "))
	fmt.Fprintf(&b, "- Timeout multiplier: %d\n\n", meta.TimeoutMultiplier)

	successCount, failedCount := 0, 0
	for _, r := range results {
		if r.Success {
			successCount++
			fmt.Fprintf(&b, "--- Segment %03d (Model: %s) ---\n", r.Segment.Index, r.Model)
			b.WriteString(r.Text)
			b.WriteString("\n\n")
		} else {
			failedCount++
			fmt.Fprintf(&b, "--- Segment %03d (FAILED TO TRANSCRIBE) ---\n", r.Segment.Index)
			b.WriteString("Models attempted: ")
			b.WriteString(strings.Join(attemptedModelNames(r.Attempts), ", "))
			b.WriteString("\n\n")
		}
	}

	b.WriteString("---\n")
	fmt.Fprintf(&b, "Total segments: %d\n", len(results))
	fmt.Fprintf(&b, "Successful: %d\n", successCount)
	fmt.Fprintf(&b, "Failed: %d\n", failedCount)
	fmt.Fprintf(&b, "Elapsed: %s\n", meta.Elapsed.Round(time.Second))

	return b.String()
}

// Clean renders the clean transcript: successful segment texts only,
// blank-line-separated, with no headers or markers (§4.9).
func Clean(results []transcribe.SegmentResult) string {
	var texts []string
	for _, r := range results {
		if r.Success {
			texts = append(texts, r.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

func attemptedModelNames(attempts []transcribe.Attempt) []string {
	names := make([]string, len(attempts))
	for i, a := range attempts {
		names[i] = a.Model
	}
	return names
}
