// SPDX-License-Identifier: MIT

// Package harvest implements the Harvester (C5): iterate a SourceList,
// gate on the remote mount (C3), invoke the Media Fetcher Adapter (C4)
// sequentially, and coordinate single-instance execution via the
// harvester Lock (C1).
package harvest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/stentor-audio/stentor/internal/fetch"
	"github.com/stentor-audio/stentor/internal/lock"
	"github.com/stentor-audio/stentor/internal/mount"
)

// SourceEntry is one line of a SourceList (§3).
type SourceEntry struct {
	URL   string
	Label string
}

// ParseSourceList reads the bar-delimited SourceList grammar (§3, §6):
// one entry per non-blank, non-comment line; everything before the first
// `|` is the URL, after it the optional free-form label.
func ParseSourceList(r io.Reader) ([]SourceEntry, error) {
	var entries []SourceEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		url, label, _ := strings.Cut(line, "|")
		entries = append(entries, SourceEntry{
			URL:   strings.TrimSpace(url),
			Label: strings.TrimSpace(label),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan source list: %w", err)
	}
	return entries, nil
}

// ParseSourceListFile opens and parses path.
func ParseSourceListFile(path string) ([]SourceEntry, error) {
	// #nosec G304 -- path is operator configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source list: %w", err)
	}
	defer f.Close()
	return ParseSourceList(f)
}

// ErrLockHeld signals that a peer Harvester is already running; callers
// should exit quietly and successfully (§4.5 step 1).
var ErrLockHeld = errors.New("harvest: harvester lock held by a live peer")

// ErrTransportLost signals C4 reported a transport-lost outcome and the
// batch was aborted.
var ErrTransportLost = errors.New("harvest: transport lost, batch aborted")

// Options configures a Harvester run.
type Options struct {
	LockPath           string
	LockTimeout        time.Duration
	SourceListPath     string
	Adapter            *fetch.Adapter
	RemoteInbox        string
	ArchiveFilePath    string
	BreakOnExisting    bool
	Mount              *mount.Prober
	RequireRemoteMount bool
	Logger             *slog.Logger
}

// Harvester runs one pass over a SourceList.
type Harvester struct {
	opts Options
	lk   *lock.Lock
}

// New constructs a Harvester.
func New(opts Options) (*Harvester, error) {
	lk, err := lock.New(opts.LockPath, opts.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("construct harvester lock: %w", err)
	}
	return &Harvester{opts: opts, lk: lk}, nil
}

// Run executes one pass: parse the SourceList, ensure the mount, and
// fetch each entry sequentially. It returns ErrLockHeld if a peer already
// holds the harvester lock (the caller should exit 0 quietly), and
// ErrTransportLost if a fetch aborted the batch due to a dead transport.
func (h *Harvester) Run(ctx context.Context) (failures int, err error) {
	result, err := h.lk.Acquire()
	if err != nil {
		return 0, fmt.Errorf("acquire harvester lock: %w", err)
	}
	if result == lock.HELD {
		return 0, ErrLockHeld
	}
	defer h.shutdown(ctx)

	entries, err := ParseSourceListFile(h.opts.SourceListPath)
	if err != nil {
		return 0, fmt.Errorf("parse source list: %w", err)
	}

	if h.opts.Mount != nil {
		mountResult, mountErr := h.opts.Mount.Ensure(ctx)
		if mountResult != mount.OK {
			if h.opts.RequireRemoteMount {
				return 0, fmt.Errorf("ensure remote mount: %w", mountErr)
			}
			h.log("remote mount unavailable, degrading to local-only", "error", mountErr)
		}
	}

	for _, entry := range entries {
		outcome, fetchErr := h.opts.Adapter.Fetch(ctx, fetch.Request{
			URL:             entry.URL,
			RemoteInbox:     h.opts.RemoteInbox,
			ArchiveFilePath: h.opts.ArchiveFilePath,
			BreakOnExisting: h.opts.BreakOnExisting,
			Label:           entry.Label,
		})

		switch outcome {
		case fetch.TransportLost:
			return failures, fmt.Errorf("%w: %v", ErrTransportLost, fetchErr)
		case fetch.SoftFailed:
			failures++
			h.log("fetch failed, continuing with next URL", "url", entry.URL, "error", fetchErr)
		}

		if h.opts.Mount != nil {
			if !h.opts.Mount.IsMountedAndResponsive(ctx) {
				return failures, fmt.Errorf("%w: mount lost after fetching %s", ErrTransportLost, entry.URL)
			}
		}
	}

	return failures, nil
}

// shutdown releases the lock and, if this Harvester performed the mount,
// tears it down (§4.5 step 5). The teardown runs at once; no settle
// pause precedes it.
func (h *Harvester) shutdown(ctx context.Context) {
	if h.opts.Mount != nil {
		if err := h.opts.Mount.Teardown(ctx); err != nil {
			h.log("mount teardown failed", "error", err)
		}
	}
	if err := h.lk.Release(); err != nil {
		h.log("release harvester lock failed", "error", err)
	}
}

func (h *Harvester) log(msg string, args ...any) {
	if h.opts.Logger != nil {
		h.opts.Logger.Warn(msg, args...)
	}
}
