// SPDX-License-Identifier: MIT

// Package mount probes and (re)establishes the remote filesystem mount that
// the client-side Harvester and the worker-side Queue Engine share as their
// only data-plane link. Mounting and unmounting themselves are delegated to
// external helpers (the actual mount tooling is explicitly out of scope,
// per the "remote filesystem mounting" entry in the system's external
// collaborators list); this package only probes and shells out to those
// helpers.
package mount

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of Ensure.
type Result int

const (
	OK Result = iota
	Failed
)

func (r Result) String() string {
	if r == OK {
		return "OK"
	}
	return "FAILED"
}

// defaultProbeTimeout bounds the directory-listing responsiveness check. A
// remote filesystem that is mounted but whose transport has died can block
// a listing indefinitely; this is the "stale mount" case the spec calls
// out by name.
const defaultProbeTimeout = 5 * time.Second

// Prober verifies and (re)establishes a mount at Path.
type Prober struct {
	Path string

	// MountCmd/MountArgs and UnmountCmd/UnmountArgs invoke the external
	// mount/unmount helpers. They are configuration, not hardcoded, because
	// the actual mount mechanism (sshfs, NFS, a site-specific script) is an
	// external collaborator the core never implements.
	MountCmd     string
	MountArgs    []string
	UnmountCmd   string
	UnmountArgs  []string
	ProbeTimeout time.Duration

	selfMounted bool
}

// New creates a Prober for path, using the supplied external mount and
// unmount helper commands.
func New(path, mountCmd string, mountArgs []string, unmountCmd string, unmountArgs []string) *Prober {
	return &Prober{
		Path:         path,
		MountCmd:     mountCmd,
		MountArgs:    mountArgs,
		UnmountCmd:   unmountCmd,
		UnmountArgs:  unmountArgs,
		ProbeTimeout: defaultProbeTimeout,
	}
}

// IsMountedAndResponsive returns true only if the path is both reported as
// a mounted filesystem by the OS and responds to a directory listing within
// ProbeTimeout. Both checks are required: a remote filesystem can remain
// listed in the mount table after its transport has died.
func (p *Prober) IsMountedAndResponsive(ctx context.Context) bool {
	if !isMountPoint(p.Path) {
		return false
	}
	return p.listingResponds(ctx)
}

// listingResponds attempts a directory read bounded by ProbeTimeout,
// mirroring the manager's process-wait idiom of racing a result channel
// against context cancellation rather than trusting os.ReadDir to respect
// a deadline on its own (it does not).
func (p *Prober) listingResponds(ctx context.Context) bool {
	timeout := p.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		_, err := os.ReadDir(p.Path)
		done <- err == nil
	}()

	select {
	case <-probeCtx.Done():
		return false
	case ok := <-done:
		return ok
	}
}

// Ensure idempotently establishes the mount. If the path is already mounted
// and responsive, it is a no-op returning OK. Otherwise it best-effort
// unmounts (ignoring failure — there may be nothing to unmount), invokes
// the mount helper, and re-probes.
func (p *Prober) Ensure(ctx context.Context) (Result, error) {
	if p.IsMountedAndResponsive(ctx) {
		return OK, nil
	}

	if p.UnmountCmd != "" {
		_ = p.runHelper(ctx, p.UnmountCmd, p.UnmountArgs) // best-effort; failure is expected if nothing is mounted
	}

	if p.MountCmd == "" {
		return Failed, fmt.Errorf("no mount helper configured for %s", p.Path)
	}
	if err := p.runHelper(ctx, p.MountCmd, p.MountArgs); err != nil {
		return Failed, fmt.Errorf("mount helper failed: %w", err)
	}

	if !p.IsMountedAndResponsive(ctx) {
		return Failed, fmt.Errorf("mount helper exited cleanly but %s is still not mounted and responsive", p.Path)
	}

	p.selfMounted = true
	return OK, nil
}

// Teardown unmounts the path, but only if this Prober instance is the one
// that performed the mount via Ensure — symmetric with the Lock Manager's
// owner-tracked release.
func (p *Prober) Teardown(ctx context.Context) error {
	if !p.selfMounted {
		return nil
	}
	p.selfMounted = false
	if p.UnmountCmd == "" {
		return nil
	}
	return p.runHelper(ctx, p.UnmountCmd, p.UnmountArgs)
}

func (p *Prober) runHelper(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- name/args come from operator configuration
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// isMountPoint reports whether path appears as a mounted filesystem
// according to /proc/mounts. This is the "OS reports a filesystem mounted
// at path" half of the responsiveness check.
func isMountPoint(path string) bool {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		// /proc/mounts is Linux-specific; if unavailable, fall back to
		// trusting the responsiveness probe alone.
		return true
	}
	defer f.Close()

	target := strings.TrimRight(path, "/")
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.TrimRight(fields[1], "/") == target {
			return true
		}
	}
	return false
}
