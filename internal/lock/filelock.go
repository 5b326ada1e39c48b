// SPDX-License-Identifier: MIT

package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Result is the outcome of an Acquire call.
type Result int

const (
	// OK means no lock file existed; this process created it and owns it.
	OK Result = iota
	// HELD means a live peer owns the lock, or a dead peer's lock has not
	// yet aged past the staleness timeout.
	HELD
	// StaleReclaimed means the previous owner is dead and its lock file
	// was older than the timeout; this process removed it and now owns
	// a freshly-created lock.
	StaleReclaimed
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case HELD:
		return "HELD"
	case StaleReclaimed:
		return "STALE_RECLAIMED"
	default:
		return "UNKNOWN"
	}
}

const (
	// LongRunningTimeout is the staleness age threshold for locks guarding
	// a critical section with an unbounded worst-case runtime (the
	// audio-processing job lock).
	LongRunningTimeout = 7200 * time.Second

	// ShortTimeout is the staleness age threshold for locks guarding a
	// quick, bounded critical section (queue-engine, harvester, downloader).
	ShortTimeout = 300 * time.Second
)

// Lock is a PID-file-content mutual-exclusion primitive. Unlike a
// flock(2)-held file descriptor, a Lock's state is entirely readable from
// its file content and modification time, so a later process (possibly on
// a different host sharing the same filesystem) can interpret it without
// inheriting an open descriptor from the process that created it.
//
// A Lock is not reentrant and is not safe for concurrent use by multiple
// goroutines acquiring the same name; callers coordinate at a higher level
// (one Lock per named resource per process).
type Lock struct {
	mu      sync.Mutex
	path    string
	timeout time.Duration
	held    bool
}

// New creates a Lock bound to path with the given staleness timeout. The
// lock's parent directory is created if it does not exist. No lock file is
// created until Acquire is called.
func New(path string, timeout time.Duration) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be positive")
	}

	dir := filepath.Dir(path)
	// #nosec G301 -- lock directory needs to be accessible to all local users sharing the queue
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	return &Lock{path: path, timeout: timeout}, nil
}

// Path returns the lock file's path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire attempts, in a single pass, to claim the lock. It never blocks
// waiting for a peer to release; the caller decides what to do with HELD
// (retry later, or treat as "a peer already has this covered").
func (l *Lock) Acquire() (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.tryCreate()
	if err == nil {
		return res, nil
	}
	if !os.IsExist(err) {
		return 0, fmt.Errorf("open lock file: %w", err)
	}

	stale, pid, statErr := l.isStale()
	if statErr != nil {
		// Age/ownership cannot be determined; treat as stale and remove,
		// per the spec's defensive last-resort cleanup rule.
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return 0, fmt.Errorf("remove undeterminable lock: %w", rmErr)
		}
		if _, err := l.reclaim(); err != nil {
			return 0, err
		}
		return StaleReclaimed, nil
	}
	if !stale {
		return HELD, nil
	}

	_ = pid
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("remove stale lock: %w", err)
	}
	if _, err := l.reclaim(); err != nil {
		return 0, err
	}
	return StaleReclaimed, nil
}

// Release removes the lock file, but only if this Lock instance is the one
// that acquired it. Releasing a lock this process does not own is a silent
// no-op — this is what prevents a crashing child from deleting a parent's
// lock, or a parent from deleting a child's.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}

	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Owner reads the process identifier stored in path's lock file, if any,
// without attempting to acquire it. Returns ok=false if no lock file
// exists.
func Owner(path string) (pid int, ok bool, err error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-configured, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read lock file: %w", err)
	}
	pidStr := strings.TrimSpace(string(data))
	pid, convErr := strconv.Atoi(pidStr)
	if convErr != nil {
		return 0, false, nil
	}
	return pid, true, nil
}

// tryCreate attempts to atomically create a brand-new lock file. Using
// O_EXCL makes the "no lock file exists" branch of Acquire race-free
// against a concurrent peer doing the same thing.
func (l *Lock) tryCreate() (Result, error) {
	// #nosec G304 -- l.path is operator-configured, not user input
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	if writeErr := writeIdentifier(f); writeErr != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return 0, writeErr
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return 0, fmt.Errorf("close lock file: %w", err)
	}
	l.held = true
	return OK, nil
}

// reclaim recreates the lock file after a stale owner's has been removed.
func (l *Lock) reclaim() (Result, error) {
	return l.tryCreate()
}

func writeIdentifier(f *os.File) error {
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write lock identifier: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// isStale reports whether the lock file at l.path is both owned by a dead
// process and older than l.timeout. Content that names no owner (empty or
// unparsable) counts as a dead owner, so only the age decides. The
// recorded owner's pid is returned alongside (0 when none was read).
func (l *Lock) isStale() (stale bool, pid int, err error) {
	info, statErr := os.Stat(l.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, 0, nil
		}
		return false, 0, statErr
	}

	pid, ok, readErr := Owner(l.path)
	if readErr != nil {
		return false, 0, readErr
	}
	if !ok {
		// Empty or unparsable content: no owner can be alive, so only
		// the age decides.
		return time.Since(info.ModTime()) > l.timeout, 0, nil
	}

	if processAlive(pid) {
		return false, pid, nil
	}

	return time.Since(info.ModTime()) > l.timeout, pid, nil
}

// processAlive reports whether pid refers to a live process, using the
// conventional Unix probe of sending the null signal.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// IsOwnedBy reports whether the lock file at path currently stores pid as
// its owning identifier. Used by a parent process deciding whether it is
// safe to remove a just-killed child's lock file.
func IsOwnedBy(path string, pid int) bool {
	owner, ok, err := Owner(path)
	if err != nil || !ok {
		return false
	}
	return owner == pid
}
