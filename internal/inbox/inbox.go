// SPDX-License-Identifier: MIT

// Package inbox enumerates media files waiting in the Queue Engine's
// inbox/ directory (C6). It is deliberately a pure directory-listing
// component: MediaGroup resolution (finding siblings that share a base
// name) is the caller's responsibility, per the spec's C6 contract.
package inbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one audio file found in the inbox, with the metadata the
// scanner already paid for (an mtime stat) so callers sorting or grouping
// files don't need to re-stat them.
type Entry struct {
	Path    string
	Name    string
	ModTime int64 // Unix nanoseconds; ties broken by Name for determinism.
}

// Scan enumerates regular files directly under dir whose extension
// (case-insensitive) is in extensions, excluding hidden files and
// filesystem metadata artifacts (names beginning with "." or "._"), and
// returns them in ascending modification-time order (§4.6).
func Scan(dir string, extensions []string) ([]Entry, error) {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox directory: %w", err)
	}

	var found []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isHiddenOrMetadata(name) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !allowed[ext] {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// A file removed between ReadDir and Info (e.g. by a concurrent
			// harvester write) is simply not part of this scan's result.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat inbox entry %s: %w", name, err)
		}

		found = append(found, Entry{
			Path:    filepath.Join(dir, name),
			Name:    name,
			ModTime: info.ModTime().UnixNano(),
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].ModTime != found[j].ModTime {
			return found[i].ModTime < found[j].ModTime
		}
		// Ties broken arbitrarily but deterministically within a single
		// scan, per §4.6.
		return found[i].Name < found[j].Name
	})

	return found, nil
}

// isHiddenOrMetadata reports whether name should be excluded from a scan:
// dotfiles and the AppleDouble "._" sidecar convention both qualify.
func isHiddenOrMetadata(name string) bool {
	return strings.HasPrefix(name, ".")
}

// BaseName strips the extension from an inbox entry's filename, giving the
// key used to resolve a MediaGroup's siblings (§3: "Sibling files sharing
// the same base name ... are a MediaGroup").
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Siblings returns every regular file directly under dir that belongs to
// base's MediaGroup: the file named exactly base, and any file whose name
// starts with "base.". The prefix form (rather than a single
// extension-stripped equality check) is what lets multi-part sidecar
// names — show.info.json, show.en.vtt — group with show.mp3: each is an
// "extension-only difference" from the primary file's base name (§3), even
// though their own final extension alone would strip to a different string.
func Siblings(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory for siblings: %w", err)
	}

	prefix := base + "."
	var siblings []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isHiddenOrMetadata(name) {
			continue
		}
		if name == base || strings.HasPrefix(name, prefix) {
			siblings = append(siblings, filepath.Join(dir, name))
		}
	}

	sort.Strings(siblings)
	return siblings, nil
}
