// Package spool implements the append-only, rename-finalized directory
// queue shared by scrapers, the router, and sinks: a producer writes a
// `.tmp` file and fsyncs it, then atomically renames it to `.metrics`;
// consumers only ever see finalized files.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Extension marks a finalized spool file. Any other extension (in
// practice, TmpExtension) is invisible to scanners.
const Extension = ".metrics"

// TmpExtension marks a spool file still being written.
const TmpExtension = ".tmp"

// RunID returns a `<unix_sec>#<unix_nsec>` identifier, optionally suffixed
// with a UUID to guarantee uniqueness across concurrent writers that
// raced to the same wall-clock tick.
func RunID(withUUID bool) string {
	now := time.Now()
	id := fmt.Sprintf("%d#%d", now.Unix(), now.Nanosecond())
	if withUUID {
		id += "#" + uuid.NewString()
	}
	return id
}

// FileName builds the finalized spool filename `<prefix>-<seq>-<runid>.metrics`.
func FileName(prefix string, seq int, runid string) string {
	return fmt.Sprintf("%s-%d-%s%s", prefix, seq, runid, Extension)
}

// Write atomically persists content (one canonical line per line; a
// trailing newline is appended if missing) as name in dir: it first
// writes to a sibling `.tmp` file, fsyncs it, then renames it into
// place. name must already carry Extension.
func Write(fs afero.Fs, dir, name, content string) error {
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	tmpName := strings.TrimSuffix(name, Extension) + TmpExtension
	tmpPath := filepath.Join(dir, tmpName)
	finalPath := filepath.Join(dir, name)

	f, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("spool: create tmp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("spool: write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("spool: fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spool: close tmp file: %w", err)
	}
	if err := fs.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("spool: rename tmp file: %w", err)
	}
	return nil
}

// ReadLines reads a finalized spool file and splits it on '\n', dropping
// every empty line (including the one a terminating newline produces).
func ReadLines(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
