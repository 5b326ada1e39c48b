// SPDX-License-Identifier: MIT

package queue

import "strings"

// lastLineCapture is an io.Writer that remembers the last non-blank line
// written to it, used to parse the Job Supervisor's stdout contract: the
// absolute clean-transcript path is the last line of stdout on success
// (§4.10 item 4).
type lastLineCapture struct {
	buf strings.Builder
}

func (c *lastLineCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *lastLineCapture) lastLine() string {
	lines := strings.Split(c.buf.String(), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
