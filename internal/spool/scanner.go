package spool

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Scan lists dir, keeping only finalized (.metrics) entries. Any entry
// whose Stat races a concurrent delete is silently dropped. Any entry
// observed with length 0 is a stale remnant: it is unlinked and dropped
// from the result. Scan only fails when the directory itself cannot be
// listed.
func Scan(fs afero.Fs, dir string) (map[string]os.FileInfo, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	out := make(map[string]os.FileInfo, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		path := filepath.Join(dir, e.Name())

		info, err := fs.Stat(path)
		if err != nil {
			// Raced a concurrent delete between ReadDir and Stat; skip it.
			continue
		}
		if info.Size() == 0 {
			_ = fs.Remove(path)
			continue
		}
		out[path] = info
	}
	return out, nil
}

// PrefixName reports whether path's base name was produced with the
// given spool filename prefix (a scraper or sink name).
func PrefixName(path, prefix string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, prefix+"-")
}
