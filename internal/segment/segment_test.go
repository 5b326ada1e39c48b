// SPDX-License-Identifier: MIT

package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSegmentRangesNoSilences(t *testing.T) {
	ranges := buildSegmentRanges(nil, nil, 42.0)
	assert.Equal(t, []segRange{{start: 0, duration: 42.0}}, ranges)
}

func TestBuildSegmentRangesSkipsShortLeadingSegment(t *testing.T) {
	// A silence at 0.5s would produce a 0.5s leading segment, below
	// MinSegmentDuration, so it must be skipped rather than emitted.
	starts := []float64{0.5, 20.0}
	ends := []float64{1.5, 21.0}
	ranges := buildSegmentRanges(starts, ends, 30.0)

	require := assert.New(t)
	require.Len(ranges, 2)
	// cursor after first silence: 1.5 - 0.25 = 1.25
	require.InDelta(1.25, ranges[0].start, 1e-9)
	require.InDelta(20.0-1.25, ranges[0].duration, 1e-9)
	// cursor after second silence: 21.0 - 0.25 = 20.75
	require.InDelta(20.75, ranges[1].start, 1e-9)
	require.InDelta(30.0-20.75, ranges[1].duration, 1e-9)
}

func TestBuildSegmentRangesDropsTrailingShortSegment(t *testing.T) {
	starts := []float64{10.0}
	ends := []float64{29.8}
	// cursor becomes 29.8-0.25=29.55, final segment duration 30-29.55=0.45 < MinSegmentDuration
	ranges := buildSegmentRanges(starts, ends, 30.0)
	assert.Len(t, ranges, 1)
	assert.InDelta(t, 0, ranges[0].start, 1e-9)
	assert.InDelta(t, 10.0, ranges[0].duration, 1e-9)
}

func TestBuildSegmentRangesFallsBackWhenAllCandidatesTooShort(t *testing.T) {
	starts := []float64{0.1}
	ends := []float64{0.2}
	ranges := buildSegmentRanges(starts, ends, 0.3)
	assert.Len(t, ranges, 1)
	assert.Equal(t, 0.0, ranges[0].start)
	assert.Equal(t, 0.3, ranges[0].duration)
}

func TestSegmentFilenameZeroPadded(t *testing.T) {
	assert.Equal(t, "segment_001.wav", Segment{Index: 1}.Filename())
	assert.Equal(t, "segment_042.wav", Segment{Index: 42}.Filename())
}

func TestProbeToolPathDerivesFFprobe(t *testing.T) {
	assert.Equal(t, "/usr/bin/ffprobe", probeToolPath("/usr/bin/ffmpeg"))
	assert.Equal(t, "ffprobe", probeToolPath("ffmpeg"))
}

func TestFormatSecondsClampsNegative(t *testing.T) {
	assert.Equal(t, "0.000", formatSeconds(-1))
	assert.Equal(t, "12.500", formatSeconds(12.5))
}
