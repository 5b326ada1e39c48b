// SPDX-License-Identifier: MIT

package transcribe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveTimeoutClampsLow(t *testing.T) {
	assert.Equal(t, 30*time.Second, effectiveTimeout(1.0, DefaultTimeoutMultiplier))
}

func TestEffectiveTimeoutClampsHigh(t *testing.T) {
	assert.Equal(t, 600*time.Second, effectiveTimeout(1000.0, DefaultTimeoutMultiplier))
}

func TestEffectiveTimeoutWithinRange(t *testing.T) {
	assert.Equal(t, 50*time.Second, effectiveTimeout(10.0, 5))
}

func TestNormalizeModelListAppendsFallback(t *testing.T) {
	assert.Equal(t, []string{"whisper-large", FallbackModel}, normalizeModelList([]string{"whisper-large"}))
}

func TestNormalizeModelListLeavesFallbackAloneWhenAlreadyPresent(t *testing.T) {
	assert.Equal(t, []string{"whisper-large", FallbackModel}, normalizeModelList([]string{"whisper-large", FallbackModel}))
}

func TestNormalizeModelListLeavesSoleFallbackAlone(t *testing.T) {
	assert.Equal(t, []string{FallbackModel}, normalizeModelList([]string{FallbackModel}))
}

func TestNormalizeModelListDefaultsWhenEmpty(t *testing.T) {
	assert.Equal(t, []string{FallbackModel}, normalizeModelList(nil))
}

func TestCleanTitleStripsTrailingIDAndUnderscores(t *testing.T) {
	assert.Equal(t, "My Great Talk", CleanTitle("My_Great_Talk_[dQw4w9WgXcQ].mp3"))
}

func TestCleanTitleNoIDSuffix(t *testing.T) {
	assert.Equal(t, "plain episode", CleanTitle("plain_episode.mp3"))
}

func TestAssemblePromptStripsDoubleQuotes(t *testing.T) {
	prompt := assemblePrompt(`He said "hello"`, "", "")
	assert.NotContains(t, prompt, `"`)
}

func TestAssemblePromptClampsTotalLength(t *testing.T) {
	longDesc := make([]byte, 2000)
	for i := range longDesc {
		longDesc[i] = 'a'
		if i%5 == 0 {
			longDesc[i] = ' '
		}
	}
	prompt := assemblePrompt("Title", string(longDesc), "")
	assert.LessOrEqual(t, len(prompt), MaxTotalPromptChars)
}

func TestAssemblePromptIncludesInterSegmentTailPrefixed(t *testing.T) {
	prompt := assemblePrompt("Title", "", "the quick brown fox jumps")
	assert.Contains(t, prompt, "[...] ")
}

func TestInterSegmentTailStripsLeadingPartialWord(t *testing.T) {
	transcript := "this is a very long transcript that runs past the inter segment context length so the cut lands mid word truncated and then keeps going with plenty more filler words so the whole thing is well past the limit now"
	tail := interSegmentTail(transcript)
	// the raw hard cut would begin mid-word; the stripped tail must not
	// reproduce the original string's cut point verbatim at its start.
	assert.NotEqual(t, transcript[len(transcript)-InterSegmentContextLength:], tail)
	assert.LessOrEqual(t, len(tail), InterSegmentContextLength)
}

func TestInterSegmentTailShortTranscriptUnchanged(t *testing.T) {
	assert.Equal(t, "hello world", interSegmentTail("hello world"))
}

func TestTrimToWordBoundaryDoesNotCutMidWord(t *testing.T) {
	s := trimToWordBoundary("one two three four five", 12)
	assert.Equal(t, "one two", s)
}

func TestContainsAnyMarker(t *testing.T) {
	assert.True(t, containsAnyMarker("Error: failed to load model foo"))
	assert.False(t, containsAnyMarker("transcription complete"))
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "timeout", outcomeLabel(OutcomeTimeout))
	assert.Equal(t, "success", outcomeLabel(OutcomeSuccess))
}
